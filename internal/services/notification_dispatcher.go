package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/metrics"
)

// DefaultSendTimeout bounds a single channel send when none is configured.
const DefaultSendTimeout = 10 * time.Second

// Route attaches a channel to the dispatcher with its severity floor.
type Route struct {
	Channel     notification.Channel
	MinSeverity alert.Severity
}

// DispatcherConfig configures a NotificationDispatcher.
type DispatcherConfig struct {
	ID        string
	Timeout   time.Duration
	SendEmpty bool
}

// NotificationDispatcher renders alert batches and sends them to every route
// concurrently. Each channel is isolated: timeouts, errors, and panics are
// recorded against that channel only. Sends are not retried.
type NotificationDispatcher struct {
	id        string
	routes    []Route
	timeout   time.Duration
	sendEmpty bool
	logger    *logger.Logger
}

// NewNotificationDispatcher creates a dispatcher over routes
func NewNotificationDispatcher(cfg DispatcherConfig, routes []Route, log *logger.Logger) *NotificationDispatcher {
	if cfg.ID == "" {
		cfg.ID = "notification-dispatcher"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &NotificationDispatcher{
		id:        cfg.ID,
		routes:    routes,
		timeout:   cfg.Timeout,
		sendEmpty: cfg.SendEmpty,
		logger:    log.WithComponent("dispatcher"),
	}
}

// ID identifies the dispatcher as an alert manager observer
func (d *NotificationDispatcher) ID() string {
	return d.id
}

// Channels lists the configured channel names
func (d *NotificationDispatcher) Channels() []string {
	names := make([]string, len(d.routes))
	for i, r := range d.routes {
		names[i] = r.Channel.Name()
	}
	return names
}

// Notify sends the batch and reports partial failure as an adapter delivery error.
func (d *NotificationDispatcher) Notify(ctx context.Context, alerts []alert.Alert) error {
	report := d.Send(ctx, alerts)
	failed := report.FailedChannels()
	if len(failed) == 0 {
		return nil
	}
	return errors.AdapterDelivery(strings.Join(failed, ", "),
		fmt.Errorf("%d of %d channels failed", len(failed), len(report.Outcomes)))
}

// Send delivers alerts to every route and returns one outcome per route in
// configuration order.
func (d *NotificationDispatcher) Send(ctx context.Context, alerts []alert.Alert) notification.DeliveryReport {
	outcomes := make([]notification.ChannelOutcome, len(d.routes))

	var g errgroup.Group
	for i, route := range d.routes {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, route, alerts)
			return nil
		})
	}
	_ = g.Wait()

	return notification.DeliveryReport{Outcomes: outcomes}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, route Route, alerts []alert.Alert) notification.ChannelOutcome {
	name := route.Channel.Name()
	batch := alert.AtLeast(alerts, route.MinSeverity)
	outcome := notification.ChannelOutcome{Channel: name, AlertCount: len(batch)}

	if len(batch) == 0 && !d.sendEmpty {
		outcome.Skipped = true
		return outcome
	}

	severity := alert.Highest(batch)
	if severity == 0 {
		severity = alert.SeverityInfo
	}

	start := time.Now()
	result := d.sendWithTimeout(ctx, route.Channel, FormatBatch(batch), severity)
	outcome.Duration = time.Since(start)
	outcome.Delivered = result.Delivered
	outcome.Error = result.Error
	if !result.Delivered && outcome.Error == "" {
		outcome.Error = "channel reported no delivery"
	}

	metrics.RecordDelivery(name, outcome.Delivered, outcome.Duration)

	log := d.logger.WithFields(map[string]interface{}{
		"channel":     name,
		"alerts":      len(batch),
		"duration_ms": outcome.Duration.Milliseconds(),
	})
	if outcome.Delivered {
		log.Info("Alert batch delivered")
	} else {
		log.With("error", outcome.Error).Warn("Alert batch delivery failed")
	}

	return outcome
}

// sendWithTimeout runs the send in its own goroutine so a channel that ignores
// its context cannot hold up the dispatcher past the timeout.
func (d *NotificationDispatcher) sendWithTimeout(ctx context.Context, ch notification.Channel, message string, severity alert.Severity) notification.DeliveryResult {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan notification.DeliveryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- notification.DeliveryResult{Error: fmt.Sprintf("channel panicked: %v", r)}
			}
		}()
		done <- ch.Send(sendCtx, message, severity)
	}()

	select {
	case result := <-done:
		return result
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return notification.Failed(fmt.Errorf("send cancelled: %w", ctx.Err()))
		}
		return notification.Failed(fmt.Errorf("send timed out after %s", d.timeout))
	}
}

// FormatBatch renders alerts as plain text: a summary line followed by one
// line per alert, most urgent first.
func FormatBatch(alerts []alert.Alert) string {
	if len(alerts) == 0 {
		return "Workspace audit: no alerts"
	}

	sorted := make([]alert.Alert, len(alerts))
	copy(sorted, alerts)
	alert.Sort(sorted)

	summary := alert.Summarize(sorted)
	var counts []string
	for i := len(alert.AllSeverities()) - 1; i >= 0; i-- {
		sev := alert.AllSeverities()[i]
		if n := summary.BySeverity[sev.String()]; n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	var b strings.Builder
	noun := "alerts"
	if len(sorted) == 1 {
		noun = "alert"
	}
	fmt.Fprintf(&b, "[%s] Workspace audit: %d %s (%s)\n",
		alert.Highest(sorted).Label(), len(sorted), noun, strings.Join(counts, ", "))
	for _, a := range sorted {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Severity.Label(), a.Category, a.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}
