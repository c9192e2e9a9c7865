package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

type ReportRepository struct {
	db *DB
}

func NewReportRepository(db *DB) report.Repository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(ctx context.Context, rep *report.RunReport) error {
	defer observe("insert", "run_reports", time.Now())

	payload, err := json.Marshal(rep)
	if err != nil {
		return errors.DatabaseError("Failed to encode run report", err)
	}
	h := report.HeaderOf(rep)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("Failed to start transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO run_reports (id, trigger_name, started_at, finished_at, baseline, alert_count, highest_severity, failed_deliveries, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		h.ID, h.Trigger, formatTime(h.StartedAt), formatTime(h.FinishedAt), boolToInt(h.Baseline),
		h.AlertCount, h.HighestSeverity, h.FailedDeliveries, string(payload),
	)
	if err != nil {
		return errors.DatabaseError("Failed to create run report", err)
	}

	if len(rep.Alerts) > 0 {
		stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
			INSERT INTO alerts (run_id, position, severity, category, entity_id, message, evidence, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return errors.DatabaseError("Failed to prepare alert insert", err)
		}
		defer stmt.Close()

		for i, a := range rep.Alerts {
			evidence, err := json.Marshal(a.Evidence)
			if err != nil {
				return errors.DatabaseError("Failed to encode alert evidence", err)
			}
			if _, err := stmt.ExecContext(ctx,
				rep.ID, i, int(a.Severity), string(a.Category), a.EntityID(), a.Message, string(evidence), formatTime(a.DetectedAt),
			); err != nil {
				return errors.DatabaseError("Failed to store alert", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("Failed to commit run report", err)
	}
	return nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (*report.RunReport, error) {
	defer observe("select", "run_reports", time.Now())

	var payload string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT payload FROM run_reports WHERE id = ?`), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Run report")
	}
	if err != nil {
		return nil, errors.DatabaseError("Failed to get run report", err)
	}

	var rep report.RunReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, errors.DatabaseError("Stored run report is unreadable", err)
	}
	return &rep, nil
}

func (r *ReportRepository) ListWithPagination(ctx context.Context, limit, offset int) ([]report.Header, int64, error) {
	defer observe("select", "run_reports", time.Now())

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM run_reports").Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count run reports", err)
	}

	query := r.db.Rebind(`
		SELECT id, trigger_name, started_at, finished_at, baseline, alert_count, highest_severity, failed_deliveries
		FROM run_reports ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?
	`)

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list run reports", err)
	}
	defer rows.Close()

	headers := make([]report.Header, 0, limit)
	for rows.Next() {
		var (
			h                   report.Header
			startedAt, finished string
			baseline            int
		)
		if err := rows.Scan(&h.ID, &h.Trigger, &startedAt, &finished, &baseline,
			&h.AlertCount, &h.HighestSeverity, &h.FailedDeliveries); err != nil {
			return nil, 0, errors.DatabaseError("Failed to scan run report", err)
		}
		h.StartedAt = parseTime(startedAt)
		h.FinishedAt = parseTime(finished)
		h.Baseline = baseline == 1
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.DatabaseError("Failed to list run reports", err)
	}

	return headers, total, nil
}
