package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/metrics"
)

// DefaultNotifyTimeout bounds a single observer notification.
const DefaultNotifyTimeout = 30 * time.Second

// AlertManager deduplicates alert batches and fans them out to observers. A
// failing, panicking or hung observer never affects the others or the caller.
type AlertManager struct {
	logger  *logger.Logger
	timeout time.Duration

	mu        sync.RWMutex
	observers []notification.Observer
	last      []alert.Alert
}

// NewAlertManager creates an alert manager with no observers
func NewAlertManager(log *logger.Logger) *AlertManager {
	return &AlertManager{
		logger:  log.WithComponent("alert_manager"),
		timeout: DefaultNotifyTimeout,
	}
}

// SetNotifyTimeout changes the per-observer time bound. Non-positive values
// are ignored.
func (m *AlertManager) SetNotifyTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// Register adds an observer. Observer ids must be unique.
func (m *AlertManager) Register(o notification.Observer) error {
	if o == nil {
		return errors.ConfigurationError("observer is nil", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.observers {
		if existing.ID() == o.ID() {
			return errors.Conflict(fmt.Sprintf("observer %q already registered", o.ID()))
		}
	}
	m.observers = append(m.observers, o)

	m.logger.With("observer", o.ID()).Debug("Observer registered")
	return nil
}

// Observers returns the registered observer ids in registration order
func (m *AlertManager) Observers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, len(m.observers))
	for i, o := range m.observers {
		ids[i] = o.ID()
	}
	return ids
}

// Publish deduplicates alerts, remembers the batch, and notifies every
// observer concurrently. Results follow registration order.
func (m *AlertManager) Publish(ctx context.Context, alerts []alert.Alert) []notification.ObserverResult {
	batch := Deduplicate(alerts)
	if dropped := len(alerts) - len(batch); dropped > 0 {
		metrics.RecordDeduplicated(dropped)
	}

	m.mu.Lock()
	m.last = batch
	observers := make([]notification.Observer, len(m.observers))
	copy(observers, m.observers)
	timeout := m.timeout
	m.mu.Unlock()

	results := make([]notification.ObserverResult, len(observers))

	var g errgroup.Group
	for i, o := range observers {
		g.Go(func() error {
			results[i] = m.notifyWithTimeout(ctx, o, batch, timeout)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	m.logger.WithFields(map[string]interface{}{
		"alerts":    len(batch),
		"observers": len(observers),
		"failed":    failed,
	}).Info("Alert batch published")

	return results
}

// notifyWithTimeout runs notify in its own goroutine so an observer that
// ignores its context cannot hold up Publish past the timeout.
func (m *AlertManager) notifyWithTimeout(ctx context.Context, o notification.Observer, batch []alert.Alert, timeout time.Duration) notification.ObserverResult {
	notifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan notification.ObserverResult, 1)
	go func() {
		done <- m.notify(notifyCtx, o, batch)
	}()

	select {
	case result := <-done:
		return result
	case <-notifyCtx.Done():
		result := notification.ObserverResult{ObserverID: o.ID(), Error: "timed out"}
		if ctx.Err() != nil {
			result.Error = fmt.Sprintf("cancelled: %v", ctx.Err())
		}
		metrics.RecordObserverFailure(result.ObserverID)
		m.logger.With("observer", result.ObserverID).Warn("Observer notification " + result.Error)
		return result
	}
}

// notify calls one observer and converts errors and panics into a result.
func (m *AlertManager) notify(ctx context.Context, o notification.Observer, batch []alert.Alert) (result notification.ObserverResult) {
	result.ObserverID = o.ID()

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("observer panicked: %v", r)
			metrics.RecordObserverFailure(result.ObserverID)
			m.logger.With("observer", result.ObserverID).Error(result.Error)
		}
	}()

	if err := o.Notify(ctx, batch); err != nil {
		result.Error = err.Error()
		metrics.RecordObserverFailure(result.ObserverID)
		m.logger.With("observer", result.ObserverID).WarnWithErr(err, "Observer notification failed")
		return result
	}

	result.Success = true
	return result
}

// Alerts returns a copy of the last published batch
func (m *AlertManager) Alerts() []alert.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]alert.Alert, len(m.last))
	copy(out, m.last)
	return out
}

// Summary counts the last published batch
func (m *AlertManager) Summary() alert.Summary {
	return alert.Summarize(m.Alerts())
}

// Filter returns alerts from the last batch matching f
func (m *AlertManager) Filter(f alert.Filter) []alert.Alert {
	var out []alert.Alert
	for _, a := range m.Alerts() {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// Deduplicate keeps the first alert for every (category, evidence) pair and
// preserves input order.
func Deduplicate(alerts []alert.Alert) []alert.Alert {
	seen := make(map[string]bool, len(alerts))
	out := make([]alert.Alert, 0, len(alerts))
	for _, a := range alerts {
		key := dedupKey(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// dedupKey relies on encoding/json sorting map keys, which makes the evidence
// encoding canonical.
func dedupKey(a alert.Alert) string {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		evidence = []byte(fmt.Sprintf("%v", a.Evidence))
	}
	return string(a.Category) + "\x00" + string(evidence)
}
