package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/wsaudit/internal/detector"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/testutil"
)

type auditFixture struct {
	service   *AuditService
	snapshots *testutil.MockSnapshotRepository
	reports   *testutil.MockReportRepository
	observer  *testutil.MockObserver
}

func newAuditFixture(t *testing.T, rules *alert.RuleSet) auditFixture {
	t.Helper()
	log := testLogger()
	manager := NewAlertManager(log)
	observer := testutil.NewMockObserver("recorder")
	require.NoError(t, manager.Register(observer))

	snapshots := testutil.NewMockSnapshotRepository()
	reports := testutil.NewMockReportRepository()
	svc := NewAuditService(detector.NewDiffEngine(), detector.NewAlertDetector(), rules, manager, snapshots, reports, log)
	return auditFixture{service: svc, snapshots: snapshots, reports: reports, observer: observer}
}

func capture(t *testing.T, at time.Time, users ...snapshot.UserRecord) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.New(at, users, nil, snapshot.Storage{Used: 10, Limit: 100})
	require.NoError(t, err)
	return s
}

func TestAuditService_RunUsesStoredHistory(t *testing.T) {
	f := newAuditFixture(t, alert.DefaultRuleSet())
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := f.service.Run(ctx, capture(t, day1,
		snapshot.UserRecord{ID: "U1", IsOwner: true, Has2FA: true},
		snapshot.UserRecord{ID: "U2", IsOwner: true, Has2FA: true},
		snapshot.UserRecord{ID: "U3"},
	))
	require.NoError(t, err)
	assert.True(t, first.Diff.Baseline)
	assert.Empty(t, first.Alerts)

	second, err := f.service.Run(ctx, capture(t, day1.Add(24*time.Hour),
		snapshot.UserRecord{ID: "U1", IsOwner: true, Has2FA: true},
		snapshot.UserRecord{ID: "U2", IsOwner: true, Has2FA: true},
		snapshot.UserRecord{ID: "U3", IsAdmin: true},
	))
	require.NoError(t, err)
	assert.False(t, second.Diff.Baseline)
	require.Len(t, second.Alerts, 2)
	assert.Equal(t, alert.CategoryNewAdminWithout2FA, second.Alerts[0].Category)
	assert.Equal(t, alert.CategoryPermissionChange, second.Alerts[1].Category)
	assert.Equal(t, 2, second.Summary.BySeverity["critical"])

	require.Len(t, second.Deliveries, 1)
	assert.True(t, second.Deliveries[0].Success)
	assert.Len(t, f.observer.Received(), 2)

	assert.Len(t, f.snapshots.Stored, 2)
	assert.Equal(t, []string{first.ID, second.ID}, f.reports.Order)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAuditService_FatalErrorsPersistNothing(t *testing.T) {
	custom, err := alert.NewRuleSet([]alert.Rule{{ID: "x", Category: "unregistered", Enabled: true, Severity: alert.SeverityInfo}}, "unregistered")
	require.NoError(t, err)
	f := newAuditFixture(t, custom)

	_, err = f.service.Run(context.Background(), capture(t, time.Now()))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfiguration))
	assert.Empty(t, f.snapshots.Stored)
	assert.Empty(t, f.reports.Order)
	assert.Empty(t, f.observer.Received(), "nothing is published when detection cannot start")

	_, err = f.service.Run(context.Background(), nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotMismatch))
}

func TestAuditService_StoreFailure(t *testing.T) {
	f := newAuditFixture(t, alert.DefaultRuleSet())
	f.snapshots.GetError = fmt.Errorf("database is locked")

	_, err := f.service.Run(context.Background(), capture(t, time.Now()))
	assert.Error(t, err)
	assert.Empty(t, f.observer.Received())
}

func TestAuditService_SaveFailurePublishesNothing(t *testing.T) {
	f := newAuditFixture(t, alert.DefaultRuleSet())
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.service.Run(ctx, capture(t, day1, snapshot.UserRecord{ID: "U1", IsOwner: true, Has2FA: true}))
	require.NoError(t, err)
	require.Len(t, f.observer.Received(), 1)

	f.snapshots.SaveError = fmt.Errorf("disk full")
	escalated := capture(t, day1.Add(time.Hour),
		snapshot.UserRecord{ID: "U1", IsOwner: true, Has2FA: true},
		snapshot.UserRecord{ID: "U2", IsAdmin: true})
	_, err = f.service.Run(ctx, escalated)
	require.Error(t, err)
	assert.Len(t, f.observer.Received(), 1, "alerts are not sent for a run whose snapshot was not kept")
	assert.Len(t, f.reports.Order, 1)
}

func TestAuditService_RunPairLeavesHistoryAlone(t *testing.T) {
	f := newAuditFixture(t, alert.DefaultRuleSet())
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rep, err := f.service.RunPair(context.Background(),
		capture(t, at, snapshot.UserRecord{ID: "U1"}),
		capture(t, at.Add(time.Hour), snapshot.UserRecord{ID: "U1", Deactivated: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Diff.Counts().UsersModified)
	assert.Empty(t, f.snapshots.Stored)
	assert.Empty(t, f.reports.Order)
}

func TestAuditService_WithoutStore(t *testing.T) {
	log := testLogger()
	svc := NewAuditService(detector.NewDiffEngine(), detector.NewAlertDetector(), alert.DefaultRuleSet(), NewAlertManager(log), nil, nil, log)

	_, err := svc.Run(context.Background(), capture(t, time.Now()))
	assert.True(t, errors.HasCode(err, errors.ErrCodeServiceUnavailable))
}

func TestAuditService_Retention(t *testing.T) {
	f := newAuditFixture(t, alert.DefaultRuleSet())
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time { return now }
	f.service.SetRetention(Retention{MaxAge: 30 * 24 * time.Hour, Keep: 1})

	ctx := context.Background()
	_, err := f.service.Run(ctx, capture(t, now.Add(-90*24*time.Hour)))
	require.NoError(t, err)
	_, err = f.service.Run(ctx, capture(t, now.Add(-60*24*time.Hour)))
	require.NoError(t, err)
	_, err = f.service.Run(ctx, capture(t, now))
	require.NoError(t, err)

	require.Len(t, f.snapshots.Stored, 1)
	assert.True(t, f.snapshots.Stored[0].CapturedAt.Equal(now))
}
