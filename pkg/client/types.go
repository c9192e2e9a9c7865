package client

import (
	"encoding/json"
	"time"
)

// ListOptions contains common pagination options
type ListOptions struct {
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

// Page is one page of a listing
type Page[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// HealthResponse is returned by the probes
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// RunHeader is the listing view of a stored run
type RunHeader struct {
	ID               string    `json:"id"`
	Trigger          string    `json:"trigger"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Baseline         bool      `json:"baseline"`
	AlertCount       int       `json:"alert_count"`
	HighestSeverity  string    `json:"highest_severity,omitempty"`
	FailedDeliveries int       `json:"failed_deliveries"`
}

// Alert is one detected anomaly
type Alert struct {
	Severity   string                 `json:"severity"`
	Category   string                 `json:"category"`
	Message    string                 `json:"message"`
	Evidence   map[string]interface{} `json:"evidence"`
	DetectedAt time.Time              `json:"detected_at"`
}

// AlertRecord is a stored alert with the run that raised it
type AlertRecord struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	Alert
}

// Delivery is the outcome of notifying one observer
type Delivery struct {
	ObserverID string `json:"observer_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Summary counts a run's alerts
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByCategory map[string]int `json:"by_category,omitempty"`
}

// RunReport is a full pipeline run. Diff is left encoded.
type RunReport struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Diff       json.RawMessage `json:"diff"`
	Alerts     []Alert         `json:"alerts"`
	Deliveries []Delivery      `json:"deliveries"`
	Summary    Summary         `json:"summary"`
}

// Rule is one active alert rule
type Rule struct {
	ID        string             `json:"id"`
	Category  string             `json:"category"`
	Enabled   bool               `json:"enabled"`
	Threshold float64            `json:"threshold"`
	Severity  string             `json:"severity"`
	Params    map[string]float64 `json:"params,omitempty"`
}
