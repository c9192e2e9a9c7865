package alert

import "context"

// Record is an alert persisted as part of a pipeline run.
type Record struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	Alert
}

// Repository defines read access to alert history. Alerts are written together
// with their run report.
type Repository interface {
	// ListWithPagination retrieves stored alerts, newest first
	ListWithPagination(ctx context.Context, filter Filter, limit, offset int) ([]*Record, int64, error)

	// ListByRun retrieves the alerts raised by one run in detection order
	ListByRun(ctx context.Context, runID string) ([]*Record, error)

	// CountBySeverity counts stored alerts by severity name
	CountBySeverity(ctx context.Context) (map[string]int, error)
}
