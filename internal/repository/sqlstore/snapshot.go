package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

type SnapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) snapshot.Repository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, runID string, snap *snapshot.Snapshot) (int64, error) {
	defer observe("insert", "snapshots", time.Now())

	payload, err := snap.MarshalJSON()
	if err != nil {
		return 0, errors.DatabaseError("Failed to encode snapshot", err)
	}

	query := r.db.Rebind(`
		INSERT INTO snapshots (run_id, captured_at, user_count, channel_count, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		runID, formatTime(snap.CapturedAt()), snap.UserCount(), snap.ChannelCount(), string(payload), formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, errors.DatabaseError("Failed to save snapshot", err)
	}

	return id, nil
}

func (r *SnapshotRepository) Latest(ctx context.Context) (*snapshot.Stored, error) {
	defer observe("select", "snapshots", time.Now())

	query := `
		SELECT id, run_id, captured_at, payload, created_at
		FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT 1
	`

	stored, err := r.scan(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *SnapshotRepository) GetByRun(ctx context.Context, runID string) (*snapshot.Stored, error) {
	defer observe("select", "snapshots", time.Now())

	query := r.db.Rebind(`
		SELECT id, run_id, captured_at, payload, created_at
		FROM snapshots WHERE run_id = ?
	`)

	stored, err := r.scan(r.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("Snapshot")
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *SnapshotRepository) Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error) {
	defer observe("delete", "snapshots", time.Now())

	query := r.db.Rebind(`
		DELETE FROM snapshots
		WHERE captured_at < ?
		AND id NOT IN (
			SELECT id FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT ?
		)
	`)

	result, err := r.db.ExecContext(ctx, query, formatTime(cutoff), keep)
	if err != nil {
		return 0, errors.DatabaseError("Failed to prune snapshots", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.DatabaseError("Failed to get affected rows", err)
	}
	return rows, nil
}

func (r *SnapshotRepository) scan(row *sql.Row) (*snapshot.Stored, error) {
	var (
		s          snapshot.Stored
		capturedAt string
		createdAt  string
		payload    string
	)
	if err := row.Scan(&s.ID, &s.RunID, &capturedAt, &payload, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, errors.DatabaseError("Failed to get snapshot", err)
	}

	snap, err := snapshot.Decode([]byte(payload))
	if err != nil {
		return nil, errors.DatabaseError("Stored snapshot is unreadable", err)
	}

	s.Snapshot = snap
	s.CapturedAt = parseTime(capturedAt)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}
