package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pratik-mahalle/wsaudit/internal/detector"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/metrics"
)

// Retention bounds stored snapshot history. A zero MaxAge keeps everything.
type Retention struct {
	MaxAge time.Duration
	Keep   int
}

// AuditService runs the diff, detect, publish pipeline and records history.
// Stored runs are serialised so each one diffs against its predecessor.
type AuditService struct {
	mu sync.Mutex

	diff      *detector.DiffEngine
	detector  *detector.AlertDetector
	rules     *alert.RuleSet
	manager   *AlertManager
	snapshots snapshot.Repository
	reports   report.Repository
	retention Retention
	logger    *logger.Logger
	now       func() time.Time
}

// NewAuditService creates the pipeline service. The repositories may be nil
// for callers that only use RunPair.
func NewAuditService(
	diff *detector.DiffEngine,
	det *detector.AlertDetector,
	rules *alert.RuleSet,
	manager *AlertManager,
	snapshots snapshot.Repository,
	reports report.Repository,
	log *logger.Logger,
) *AuditService {
	return &AuditService{
		diff:      diff,
		detector:  det,
		rules:     rules,
		manager:   manager,
		snapshots: snapshots,
		reports:   reports,
		logger:    log.WithComponent("audit"),
		now:       time.Now,
	}
}

// SetRetention configures snapshot pruning after each stored run
func (s *AuditService) SetRetention(r Retention) {
	s.retention = r
}

// Rules returns the active rule set
func (s *AuditService) Rules() *alert.RuleSet {
	return s.rules
}

// Manager returns the alert manager the service publishes to
func (s *AuditService) Manager() *AlertManager {
	return s.manager
}

// Run diffs current against the latest stored snapshot, stores the snapshot,
// publishes the alerts, and stores the run report.
func (s *AuditService) Run(ctx context.Context, current *snapshot.Snapshot) (*report.RunReport, error) {
	return s.RunTriggered(ctx, report.TriggerManual, current)
}

// RunTriggered is Run with an explicit trigger label for history and metrics.
// The snapshot is saved before anything is published, so a failed save never
// causes the same alerts to be sent again on the next run.
func (s *AuditService) RunTriggered(ctx context.Context, trigger string, current *snapshot.Snapshot) (*report.RunReport, error) {
	if s.snapshots == nil || s.reports == nil {
		return nil, errors.ServiceUnavailable("audit history store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.now()

	var previous *snapshot.Snapshot
	stored, err := s.snapshots.Latest(ctx)
	if err != nil {
		s.finish(trigger, "error", start)
		return nil, err
	}
	if stored != nil {
		previous = stored.Snapshot
	}

	rep, err := s.analyze(trigger, previous, current)
	if err != nil {
		s.finish(trigger, "error", start)
		return nil, err
	}

	if _, err := s.snapshots.Save(ctx, rep.ID, current); err != nil {
		s.finish(trigger, "error", start)
		return rep, err
	}
	s.publish(ctx, rep)
	if err := s.reports.Create(ctx, rep); err != nil {
		s.finish(trigger, "error", start)
		return rep, err
	}

	if s.retention.MaxAge > 0 {
		cutoff := s.now().Add(-s.retention.MaxAge)
		if pruned, err := s.snapshots.Prune(ctx, cutoff, s.retention.Keep); err != nil {
			s.logger.WarnWithErr(err, "Failed to prune snapshot history")
		} else if pruned > 0 {
			s.logger.With("pruned", pruned).Info("Snapshot history pruned")
		}
	}

	s.finish(trigger, "success", start)
	return rep, nil
}

// RunPair analyses an explicit pair and publishes the alerts without reading
// or writing history. A nil previous yields a baseline run.
func (s *AuditService) RunPair(ctx context.Context, previous, current *snapshot.Snapshot) (*report.RunReport, error) {
	start := s.now()
	rep, err := s.analyze(report.TriggerManual, previous, current)
	if err != nil {
		s.finish(report.TriggerManual, "error", start)
		return nil, err
	}
	s.publish(ctx, rep)
	s.finish(report.TriggerManual, "success", start)
	return rep, nil
}

// Collect pulls a snapshot from collector and runs it.
func (s *AuditService) Collect(ctx context.Context, collector snapshot.Collector, trigger string) (*report.RunReport, error) {
	current, err := collector.Collect(ctx)
	if err != nil {
		s.finish(trigger, "error", s.now())
		return nil, err
	}
	return s.RunTriggered(ctx, trigger, current)
}

// analyze performs every fallible step before anything is published, so a
// configuration or snapshot error leaves no side effects.
func (s *AuditService) analyze(trigger string, previous, current *snapshot.Snapshot) (*report.RunReport, error) {
	rep := &report.RunReport{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With("run_id", rep.ID)

	diff, err := s.diff.Diff(previous, current)
	if err != nil {
		log.ErrorWithErr(err, "Diff failed")
		return nil, err
	}
	recordDiff(diff)

	alerts, err := s.detector.Detect(current, diff, s.rules)
	if err != nil {
		log.ErrorWithErr(err, "Detection failed")
		return nil, err
	}

	rep.Diff = diff
	rep.Alerts = Deduplicate(alerts)
	rep.Summary = alert.Summarize(rep.Alerts)

	for _, a := range rep.Alerts {
		metrics.RecordAlert(a.Severity.String(), string(a.Category))
	}

	counts := diff.Counts()
	log.WithFields(map[string]interface{}{
		"baseline":         diff.Baseline,
		"users_added":      counts.UsersAdded,
		"users_removed":    counts.UsersRemoved,
		"users_modified":   counts.UsersModified,
		"channels_changed": counts.ChannelsAdded + counts.ChannelsRemoved + counts.ChannelsModified,
		"alerts":           len(rep.Alerts),
	}).Info("Audit run analysed")

	return rep, nil
}

// publish hands the alerts to the manager and closes the report.
func (s *AuditService) publish(ctx context.Context, rep *report.RunReport) {
	rep.Deliveries = s.manager.Publish(ctx, rep.Alerts)
	rep.FinishedAt = s.now().UTC()
}

func (s *AuditService) finish(trigger, status string, start time.Time) {
	metrics.RecordRun(trigger, status, s.now().Sub(start))
}

func recordDiff(d *drift.Result) {
	c := d.Counts()
	metrics.SetDiffChanges("user", "added", c.UsersAdded)
	metrics.SetDiffChanges("user", "removed", c.UsersRemoved)
	metrics.SetDiffChanges("user", "modified", c.UsersModified)
	metrics.SetDiffChanges("channel", "added", c.ChannelsAdded)
	metrics.SetDiffChanges("channel", "removed", c.ChannelsRemoved)
	metrics.SetDiffChanges("channel", "modified", c.ChannelsModified)
}
