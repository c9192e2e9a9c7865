package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
	"github.com/pratik-mahalle/wsaudit/internal/testutil"
	"github.com/pratik-mahalle/wsaudit/migrations"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSnapshot(t *testing.T, at time.Time, users ...string) *snapshot.Snapshot {
	t.Helper()
	records := make([]snapshot.UserRecord, 0, len(users))
	for _, id := range users {
		records = append(records, snapshot.UserRecord{ID: id, Email: id + "@example.com", LastActivity: at.Add(-time.Hour)})
	}
	channels := []snapshot.ChannelRecord{{ID: "C1", Name: "general", Members: users}}
	snap, err := snapshot.New(at, records, channels, snapshot.Storage{Used: 512, Limit: 1024})
	require.NoError(t, err)
	return snap
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.NewTestDB(t)

	fsys, err := migrations.GetFS(db.Driver)
	require.NoError(t, err)
	applied, err := sqlstore.RunMigrations(db, fsys)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	_, err = migrations.GetFS("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &sqlstore.DB{Driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &sqlstore.DB{Driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.Rebind("a = ?"))
}

func TestSnapshotRepository_SaveAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := sqlstore.NewSnapshotRepository(testutil.NewTestDB(t))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store has no latest snapshot")

	older := newSnapshot(t, base, "U1")
	newer := newSnapshot(t, base.Add(24*time.Hour), "U1", "U2")

	// Saved out of order; latest is by capture time.
	_, err = repo.Save(ctx, "run-2", newer)
	require.NoError(t, err)
	_, err = repo.Save(ctx, "run-1", older)
	require.NoError(t, err)

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.RunID)
	assert.True(t, latest.CapturedAt.Equal(newer.CapturedAt()))
	assert.Equal(t, 2, latest.Snapshot.UserCount())

	u, ok := latest.Snapshot.User("U2")
	require.True(t, ok)
	assert.Equal(t, "U2@example.com", u.Email)

	byRun, err := repo.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, byRun.Snapshot.UserCount())

	_, err = repo.GetByRun(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = repo.Save(ctx, "run-1", older)
	assert.True(t, errors.HasCode(err, errors.ErrCodeDatabase), "duplicate run id is rejected")
}

func TestSnapshotRepository_Prune(t *testing.T) {
	ctx := context.Background()
	repo := sqlstore.NewSnapshotRepository(testutil.NewTestDB(t))

	for i, run := range []string{"r1", "r2", "r3", "r4"} {
		_, err := repo.Save(ctx, run, newSnapshot(t, base.Add(time.Duration(i)*24*time.Hour), "U1"))
		require.NoError(t, err)
	}

	// Everything is older than the cutoff, but the newest two are kept.
	pruned, err := repo.Prune(ctx, base.Add(30*24*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	_, err = repo.GetByRun(ctx, "r1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
	_, err = repo.GetByRun(ctx, "r4")
	assert.NoError(t, err)

	// Nothing is older than the cutoff.
	pruned, err = repo.Prune(ctx, base, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pruned)
}

func sampleReport(id string, started time.Time, alerts ...alert.Alert) *report.RunReport {
	return &report.RunReport{
		ID:         id,
		Trigger:    report.TriggerManual,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Diff: &drift.Result{
			Baseline:          true,
			CurrentCapturedAt: started,
			Users:             drift.UserDiff{Added: []snapshot.UserRecord{{ID: "U1"}}},
		},
		Alerts: alerts,
		Deliveries: []notification.ObserverResult{
			{ObserverID: "notification-dispatcher", Success: false, Error: "delivery via slack failed"},
		},
		Summary: alert.Summarize(alerts),
	}
}

func TestReportRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	reports := sqlstore.NewReportRepository(db)
	alerts := sqlstore.NewAlertRepository(db)

	critical := alert.Alert{
		Severity: alert.SeverityCritical, Category: alert.CategoryPermissionChange,
		Message: "User U1 was granted admin", DetectedAt: base,
		Evidence: map[string]interface{}{alert.EvidenceUserID: "U1", alert.EvidenceRole: "admin"},
	}
	warning := alert.Alert{
		Severity: alert.SeverityWarning, Category: alert.CategoryMassArchival,
		Message: "12 channels archived", DetectedAt: base,
		Evidence: map[string]interface{}{alert.EvidenceCount: 12},
	}

	rep := sampleReport("run-1", base, critical, warning)
	require.NoError(t, reports.Create(ctx, rep))

	got, err := reports.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.True(t, got.Diff.Baseline)
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, alert.SeverityCritical, got.Alerts[0].Severity)
	assert.Equal(t, 2, got.Summary.Total)

	_, err = reports.GetByID(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	byRun, err := alerts.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, alert.CategoryPermissionChange, byRun[0].Category)
	assert.Equal(t, "U1", byRun[0].Evidence[alert.EvidenceUserID])
	assert.Equal(t, float64(12), byRun[1].Evidence[alert.EvidenceCount])
	assert.True(t, byRun[0].DetectedAt.Equal(base))
}

func TestReportRepository_List(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	reports := sqlstore.NewReportRepository(db)

	info := alert.Alert{Severity: alert.SeverityInfo, Category: alert.CategoryExternalShare, Message: "shared", DetectedAt: base,
		Evidence: map[string]interface{}{alert.EvidenceCount: 51}}
	for i := 0; i < 3; i++ {
		require.NoError(t, reports.Create(ctx, sampleReport(
			[]string{"a", "b", "c"}[i], base.Add(time.Duration(i)*time.Hour), info)))
	}

	headers, total, err := reports.ListWithPagination(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, headers, 2)
	assert.Equal(t, "c", headers[0].ID, "newest first")
	assert.Equal(t, "b", headers[1].ID)
	assert.True(t, headers[0].Baseline)
	assert.Equal(t, 1, headers[0].AlertCount)
	assert.Equal(t, "info", headers[0].HighestSeverity)
	assert.Equal(t, 1, headers[0].FailedDeliveries)

	headers, _, err = reports.ListWithPagination(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Equal(t, "a", headers[0].ID)
}

func TestAlertRepository_FilterAndCount(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	reports := sqlstore.NewReportRepository(db)
	alerts := sqlstore.NewAlertRepository(db)

	mk := func(sev alert.Severity, cat alert.Category, user string) alert.Alert {
		return alert.Alert{Severity: sev, Category: cat, Message: string(cat) + " " + user, DetectedAt: base,
			Evidence: map[string]interface{}{alert.EvidenceUserID: user}}
	}
	require.NoError(t, reports.Create(ctx, sampleReport("run-1", base,
		mk(alert.SeverityCritical, alert.CategoryPermissionChange, "U1"),
		mk(alert.SeverityWarning, alert.CategoryInactiveUsers, "U2"),
		mk(alert.SeverityWarning, alert.CategoryInactiveUsers, "U3"),
	)))
	require.NoError(t, reports.Create(ctx, sampleReport("run-2", base.Add(time.Hour))))

	records, total, err := alerts.ListWithPagination(ctx, alert.Filter{Severity: alert.SeverityWarning}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, records, 2)
	assert.Equal(t, "U3", records[0].Evidence[alert.EvidenceUserID], "newest first")
	assert.Equal(t, "run-1", records[0].RunID)

	records, total, err = alerts.ListWithPagination(ctx, alert.Filter{Category: alert.CategoryPermissionChange}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, alert.SeverityCritical, records[0].Severity)

	counts, err := alerts.CountBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"info": 0, "warning": 2, "critical": 1}, counts)

	empty, err := alerts.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
