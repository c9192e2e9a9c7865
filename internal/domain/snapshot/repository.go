package snapshot

import (
	"context"
	"time"
)

// Stored is a persisted capture with its row metadata.
type Stored struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	CapturedAt time.Time `json:"captured_at"`
	Snapshot   *Snapshot `json:"snapshot"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository defines the interface for snapshot history
type Repository interface {
	// Save stores a snapshot taken during run runID
	Save(ctx context.Context, runID string, snap *Snapshot) (int64, error)

	// Latest returns the most recent snapshot by capture time, or nil when none is stored
	Latest(ctx context.Context) (*Stored, error)

	// GetByRun returns the snapshot stored for a run
	GetByRun(ctx context.Context, runID string) (*Stored, error)

	// Prune deletes snapshots captured before cutoff, keeping at least keep rows
	Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error)
}
