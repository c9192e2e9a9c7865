package client

import (
	"context"
)

// RunService triggers audits on the server
type RunService struct {
	client *Client
}

// Trigger audits the given snapshot document. A nil document asks the server
// to collect the newest snapshot from its spool directory.
func (s *RunService) Trigger(ctx context.Context, snapshotDoc []byte) (*RunReport, error) {
	var body interface{}
	if len(snapshotDoc) > 0 {
		body = snapshotDoc
	}

	var rep RunReport
	if err := s.client.doRequest(ctx, "POST", "/api/v1/runs", body, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Rules retrieves the server's active rule set
func (s *RunService) Rules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := s.client.doRequest(ctx, "GET", "/api/v1/rules", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
