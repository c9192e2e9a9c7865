package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
)

// Auditor runs one pipeline pass over a snapshot.
type Auditor interface {
	RunTriggered(ctx context.Context, trigger string, current *snapshot.Snapshot) (*report.RunReport, error)
}

// AuditScheduler periodically collects a snapshot and audits it, either on a
// fixed interval or on a cron schedule.
type AuditScheduler struct {
	auditor   Auditor
	collector snapshot.Collector
	interval  time.Duration
	schedule  string
	logger    *logger.Logger

	mu           sync.Mutex
	lastCaptured time.Time
}

// NewAuditScheduler creates a new audit scheduler worker. Exactly one of
// interval and schedule should be set.
func NewAuditScheduler(
	auditor Auditor,
	collector snapshot.Collector,
	interval time.Duration,
	schedule string,
	log *logger.Logger,
) *AuditScheduler {
	return &AuditScheduler{
		auditor:   auditor,
		collector: collector,
		interval:  interval,
		schedule:  schedule,
		logger:    log.WithComponent("audit-scheduler"),
	}
}

// Start runs until ctx is done.
func (s *AuditScheduler) Start(ctx context.Context) error {
	switch {
	case s.schedule != "":
		return s.runCron(ctx)
	case s.interval > 0:
		s.runTicker(ctx)
		return nil
	default:
		return errors.ConfigurationError("audit scheduler needs an interval or a cron schedule", nil)
	}
}

func (s *AuditScheduler) runTicker(ctx context.Context) {
	s.logger.WithFields(map[string]interface{}{
		"interval": s.interval.String(),
	}).Info("Starting audit scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run initial audit
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Audit scheduler stopped")
			return
		}
	}
}

func (s *AuditScheduler) runCron(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return errors.ConfigurationError(fmt.Sprintf("invalid cron schedule %q", s.schedule), err.Error())
	}

	s.logger.WithFields(map[string]interface{}{
		"schedule": s.schedule,
	}).Info("Starting audit scheduler")
	scheduler.Start()

	<-ctx.Done()
	// Wait for a running audit to finish.
	<-scheduler.Stop().Done()
	s.logger.Info("Audit scheduler stopped")
	return nil
}

// RunOnce collects and audits one snapshot. A snapshot already audited by this
// scheduler is skipped. It returns the report, or nil when nothing ran.
func (s *AuditScheduler) RunOnce(ctx context.Context) *report.RunReport {
	// cron may fire overlapping jobs
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.collector.Collect(ctx)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			s.logger.Debug("No snapshot available for scheduled audit")
			return nil
		}
		s.logger.ErrorWithErr(err, "Failed to collect snapshot for scheduled audit")
		return nil
	}

	if !s.lastCaptured.IsZero() && !current.CapturedAt().After(s.lastCaptured) {
		s.logger.WithFields(map[string]interface{}{
			"captured_at": current.CapturedAt(),
		}).Debug("Snapshot already audited, skipping")
		return nil
	}

	rep, err := s.auditor.RunTriggered(ctx, report.TriggerScheduled, current)
	if err != nil {
		s.logger.ErrorWithErr(err, "Scheduled audit failed")
		return nil
	}
	s.lastCaptured = current.CapturedAt()

	s.logger.WithFields(map[string]interface{}{
		"run_id": rep.ID,
		"alerts": len(rep.Alerts),
	}).Info("Completed scheduled audit")
	return rep
}
