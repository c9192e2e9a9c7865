package client

import (
	"context"
	"net/url"
	"strconv"
)

// ReportService handles run history API calls
type ReportService struct {
	client *Client
}

// List retrieves run headers, newest first
func (s *ReportService) List(ctx context.Context, opts *ListOptions) (*Page[RunHeader], error) {
	path := "/api/v1/reports"
	if q := opts.query(); len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page Page[RunHeader]
	if err := s.client.doRequest(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Get retrieves a full run report
func (s *ReportService) Get(ctx context.Context, id string) (*RunReport, error) {
	var rep RunReport
	if err := s.client.doRequest(ctx, "GET", "/api/v1/reports/"+url.PathEscape(id), nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (o *ListOptions) query() url.Values {
	q := url.Values{}
	if o == nil {
		return q
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	return q
}
