package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// MockSnapshotRepository is a mock implementation of snapshot.Repository
type MockSnapshotRepository struct {
	mu        sync.Mutex
	Stored    []*snapshot.Stored
	NextID    int64
	SaveError error
	GetError  error
}

func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{NextID: 1}
}

func (m *MockSnapshotRepository) Save(ctx context.Context, runID string, snap *snapshot.Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return 0, m.SaveError
	}
	id := m.NextID
	m.NextID++
	m.Stored = append(m.Stored, &snapshot.Stored{
		ID:         id,
		RunID:      runID,
		CapturedAt: snap.CapturedAt(),
		Snapshot:   snap,
		CreatedAt:  time.Now(),
	})
	return id, nil
}

func (m *MockSnapshotRepository) Latest(ctx context.Context) (*snapshot.Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	var latest *snapshot.Stored
	for _, s := range m.Stored {
		if latest == nil || !s.CapturedAt.Before(latest.CapturedAt) {
			latest = s
		}
	}
	return latest, nil
}

func (m *MockSnapshotRepository) GetByRun(ctx context.Context, runID string) (*snapshot.Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	for _, s := range m.Stored {
		if s.RunID == runID {
			return s, nil
		}
	}
	return nil, errors.NotFound("Snapshot")
}

func (m *MockSnapshotRepository) Prune(ctx context.Context, cutoff time.Time, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.Slice(m.Stored, func(i, j int) bool { return m.Stored[i].CapturedAt.After(m.Stored[j].CapturedAt) })
	var kept []*snapshot.Stored
	var pruned int64
	for i, s := range m.Stored {
		if i >= keep && s.CapturedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, s)
	}
	m.Stored = kept
	return pruned, nil
}

// MockReportRepository is a mock implementation of report.Repository
type MockReportRepository struct {
	mu          sync.Mutex
	Reports     map[string]*report.RunReport
	Order       []string
	CreateError error
}

func NewMockReportRepository() *MockReportRepository {
	return &MockReportRepository{Reports: make(map[string]*report.RunReport)}
}

func (m *MockReportRepository) Create(ctx context.Context, r *report.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	m.Reports[r.ID] = r
	m.Order = append(m.Order, r.ID)
	return nil
}

func (m *MockReportRepository) GetByID(ctx context.Context, id string) (*report.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return nil, errors.NotFound("Run report")
	}
	return r, nil
}

func (m *MockReportRepository) ListWithPagination(ctx context.Context, limit, offset int) ([]report.Header, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var headers []report.Header
	for i := len(m.Order) - 1; i >= 0; i-- {
		headers = append(headers, report.HeaderOf(m.Reports[m.Order[i]]))
	}
	total := int64(len(headers))
	if offset >= len(headers) {
		return []report.Header{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(headers) {
		end = len(headers)
	}
	return headers[offset:end], total, nil
}

// MockAlertRepository is a mock implementation of alert.Repository
type MockAlertRepository struct {
	Records []*alert.Record
}

func NewMockAlertRepository() *MockAlertRepository {
	return &MockAlertRepository{}
}

func (m *MockAlertRepository) ListWithPagination(ctx context.Context, filter alert.Filter, limit, offset int) ([]*alert.Record, int64, error) {
	var matched []*alert.Record
	for _, r := range m.Records {
		if filter.Match(r.Alert) {
			matched = append(matched, r)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []*alert.Record{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MockAlertRepository) ListByRun(ctx context.Context, runID string) ([]*alert.Record, error) {
	var out []*alert.Record
	for _, r := range m.Records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockAlertRepository) CountBySeverity(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, r := range m.Records {
		counts[r.Severity.String()]++
	}
	return counts, nil
}

// MockChannel is a scriptable notification.Channel
type MockChannel struct {
	ChannelName string
	Result      notification.DeliveryResult
	Delay       time.Duration
	Panic       bool
	IgnoreCtx   bool

	mu       sync.Mutex
	Messages []string
	Levels   []alert.Severity
}

func NewMockChannel(name string) *MockChannel {
	return &MockChannel{ChannelName: name, Result: notification.Delivered()}
}

func (c *MockChannel) Name() string { return c.ChannelName }

func (c *MockChannel) Send(ctx context.Context, message string, severity alert.Severity) notification.DeliveryResult {
	if c.Panic {
		panic("mock channel failure")
	}
	if c.Delay > 0 {
		if c.IgnoreCtx {
			time.Sleep(c.Delay)
		} else {
			select {
			case <-time.After(c.Delay):
			case <-ctx.Done():
				return notification.Failed(ctx.Err())
			}
		}
	}
	c.mu.Lock()
	c.Messages = append(c.Messages, message)
	c.Levels = append(c.Levels, severity)
	c.mu.Unlock()
	return c.Result
}

// Sent returns the number of messages the channel accepted
func (c *MockChannel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Messages)
}

// MockObserver records every batch it receives
type MockObserver struct {
	ObserverID string
	Err        error
	Panic      bool
	// Block, when set, is waited on before recording, regardless of ctx
	Block chan struct{}

	mu      sync.Mutex
	Batches [][]alert.Alert
}

func NewMockObserver(id string) *MockObserver {
	return &MockObserver{ObserverID: id}
}

func (o *MockObserver) ID() string { return o.ObserverID }

func (o *MockObserver) Notify(ctx context.Context, alerts []alert.Alert) error {
	if o.Panic {
		panic("mock observer failure")
	}
	if o.Block != nil {
		<-o.Block
	}
	o.mu.Lock()
	o.Batches = append(o.Batches, alerts)
	o.mu.Unlock()
	return o.Err
}

// Received returns the batches seen so far
func (o *MockObserver) Received() [][]alert.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]alert.Alert, len(o.Batches))
	copy(out, o.Batches)
	return out
}
