package report

import (
	"context"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
)

// RunReport is everything one pipeline pass produced.
type RunReport struct {
	ID         string                        `json:"id"`
	Trigger    string                        `json:"trigger"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
	Diff       *drift.Result                 `json:"diff"`
	Alerts     []alert.Alert                 `json:"alerts"`
	Deliveries []notification.ObserverResult `json:"deliveries"`
	Summary    alert.Summary                 `json:"summary"`
}

// Run triggers
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// Header is the listing view of a stored report.
type Header struct {
	ID               string    `json:"id"`
	Trigger          string    `json:"trigger"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Baseline         bool      `json:"baseline"`
	AlertCount       int       `json:"alert_count"`
	HighestSeverity  string    `json:"highest_severity,omitempty"`
	FailedDeliveries int       `json:"failed_deliveries"`
}

// HeaderOf derives the listing view of r.
func HeaderOf(r *RunReport) Header {
	h := Header{
		ID:         r.ID,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		AlertCount: len(r.Alerts),
	}
	if r.Diff != nil {
		h.Baseline = r.Diff.Baseline
	}
	if top := alert.Highest(r.Alerts); top != 0 {
		h.HighestSeverity = top.String()
	}
	for _, d := range r.Deliveries {
		if !d.Success {
			h.FailedDeliveries++
		}
	}
	return h
}

// Repository defines the interface for run report persistence
type Repository interface {
	// Create stores a report and its alerts atomically
	Create(ctx context.Context, r *RunReport) error

	// GetByID retrieves a report by run id
	GetByID(ctx context.Context, id string) (*RunReport, error)

	// ListWithPagination lists report headers, newest first
	ListWithPagination(ctx context.Context, limit, offset int) ([]Header, int64, error)
}
