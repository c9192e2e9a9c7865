package client

import (
	"context"
	"net/url"
)

// AlertService handles alert history API calls
type AlertService struct {
	client *Client
}

// AlertListOptions contains options for listing alerts
type AlertListOptions struct {
	ListOptions
	Severity string
	Category string
}

// AlertSummary counts stored alerts per severity
type AlertSummary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
}

// List retrieves stored alerts, newest first
func (s *AlertService) List(ctx context.Context, opts *AlertListOptions) (*Page[AlertRecord], error) {
	var lo *ListOptions
	if opts != nil {
		lo = &opts.ListOptions
	}
	query := lo.query()
	if opts != nil {
		if opts.Severity != "" {
			query.Set("severity", opts.Severity)
		}
		if opts.Category != "" {
			query.Set("category", opts.Category)
		}
	}

	path := "/api/v1/alerts"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page Page[AlertRecord]
	if err := s.client.doRequest(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListByRun retrieves the alerts one run raised, in detection order
func (s *AlertService) ListByRun(ctx context.Context, runID string) ([]AlertRecord, error) {
	var records []AlertRecord
	if err := s.client.doRequest(ctx, "GET", "/api/v1/alerts?run_id="+url.QueryEscape(runID), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Summary retrieves alert counts per severity
func (s *AlertService) Summary(ctx context.Context) (*AlertSummary, error) {
	var summary AlertSummary
	if err := s.client.doRequest(ctx, "GET", "/api/v1/alerts/summary", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
