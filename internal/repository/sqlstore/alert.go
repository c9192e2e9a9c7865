package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

const alertColumns = "id, run_id, severity, category, message, evidence, detected_at"

type AlertRepository struct {
	db *DB
}

func NewAlertRepository(db *DB) alert.Repository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) ListWithPagination(ctx context.Context, filter alert.Filter, limit, offset int) ([]*alert.Record, int64, error) {
	defer observe("select", "alerts", time.Now())

	where := []string{"1 = 1"}
	args := []interface{}{}

	if filter.Severity != 0 {
		where = append(where, "severity = ?")
		args = append(args, int(filter.Severity))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := r.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM alerts WHERE %s", whereClause))
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.DatabaseError("Failed to count alerts", err)
	}

	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s FROM alerts WHERE %s ORDER BY id DESC LIMIT ? OFFSET ?
	`, alertColumns, whereClause))

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.DatabaseError("Failed to list alerts", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *AlertRepository) ListByRun(ctx context.Context, runID string) ([]*alert.Record, error) {
	defer observe("select", "alerts", time.Now())

	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s FROM alerts WHERE run_id = ? ORDER BY position ASC
	`, alertColumns))

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.DatabaseError("Failed to list alerts", err)
	}
	defer rows.Close()

	return scanRecords(rows, 16)
}

func (r *AlertRepository) CountBySeverity(ctx context.Context) (map[string]int, error) {
	defer observe("select", "alerts", time.Now())

	rows, err := r.db.QueryContext(ctx, "SELECT severity, COUNT(*) FROM alerts GROUP BY severity")
	if err != nil {
		return nil, errors.DatabaseError("Failed to count alerts", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 3)
	for _, sev := range alert.AllSeverities() {
		counts[sev.String()] = 0
	}
	for rows.Next() {
		var sev, n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, errors.DatabaseError("Failed to scan alert count", err)
		}
		counts[alert.Severity(sev).String()] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to count alerts", err)
	}
	return counts, nil
}

func scanRecords(rows *sql.Rows, capacity int) ([]*alert.Record, error) {
	records := make([]*alert.Record, 0, capacity)
	for rows.Next() {
		var (
			rec        alert.Record
			severity   int
			category   string
			evidence   string
			detectedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &severity, &category, &rec.Message, &evidence, &detectedAt); err != nil {
			return nil, errors.DatabaseError("Failed to scan alert", err)
		}
		rec.Severity = alert.Severity(severity)
		rec.Category = alert.Category(category)
		rec.DetectedAt = parseTime(detectedAt)
		if err := json.Unmarshal([]byte(evidence), &rec.Evidence); err != nil {
			return nil, errors.DatabaseError("Stored alert evidence is unreadable", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("Failed to list alerts", err)
	}
	return records, nil
}
