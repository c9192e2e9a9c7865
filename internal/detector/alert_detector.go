package detector

import (
	"fmt"
	"sort"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// Input is what an evaluator sees. Diff is nil when no comparison was made and
// may be a baseline; Rules is the whole set so evaluators can check siblings.
type Input struct {
	Snapshot *snapshot.Snapshot
	Diff     *drift.Result
	Rules    *alert.RuleSet
}

// HasChanges reports whether the diff compares two real captures.
func (in Input) HasChanges() bool {
	return in.Diff != nil && !in.Diff.Baseline
}

// Evaluator turns one enabled rule into zero or more alerts.
type Evaluator func(in Input, rule alert.Rule) []alert.Alert

type registration struct {
	evaluate  Evaluator
	needsDiff bool
}

// AlertDetector applies a rule set to a snapshot and its diff.
type AlertDetector struct {
	evaluators map[alert.Category]registration
}

// NewAlertDetector creates a detector with every built-in evaluator registered.
func NewAlertDetector() *AlertDetector {
	d := &AlertDetector{evaluators: make(map[alert.Category]registration)}

	d.evaluators[alert.CategoryInactiveUsers] = registration{evaluate: evaluateInactiveUsers}
	d.evaluators[alert.CategoryStorage] = registration{evaluate: evaluateStorage}
	d.evaluators[alert.CategoryGuestRatio] = registration{evaluate: evaluateGuestRatio}
	d.evaluators[alert.CategoryExternalShare] = registration{evaluate: evaluateExternalShare}
	d.evaluators[alert.CategoryOwnerCoverage] = registration{evaluate: evaluateOwnerCoverage}

	d.evaluators[alert.CategoryPermissionChange] = registration{evaluate: evaluatePermissionChange, needsDiff: true}
	d.evaluators[alert.CategoryNewAdminWithout2FA] = registration{evaluate: evaluateNewAdminWithout2FA, needsDiff: true}
	d.evaluators[alert.CategoryMassArchival] = registration{evaluate: evaluateMassArchival, needsDiff: true}
	d.evaluators[alert.CategoryDeactivationSpike] = registration{evaluate: evaluateDeactivationSpike, needsDiff: true}
	d.evaluators[alert.CategoryAdminChurn] = registration{evaluate: evaluateAdminChurn, needsDiff: true}

	return d
}

// Register adds or replaces the evaluator for category. Custom evaluators
// receive the diff as-is and must handle a nil or baseline diff themselves.
func (d *AlertDetector) Register(category alert.Category, evaluate Evaluator) error {
	if category == "" {
		return errors.ConfigurationError("evaluator category is required", nil)
	}
	if evaluate == nil {
		return errors.ConfigurationError(fmt.Sprintf("evaluator for %s is nil", category), nil)
	}
	d.evaluators[category] = registration{evaluate: evaluate}
	return nil
}

// Categories lists every category with a registered evaluator, sorted.
func (d *AlertDetector) Categories() []alert.Category {
	out := make([]alert.Category, 0, len(d.evaluators))
	for c := range d.evaluators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Detect evaluates every enabled rule and returns the alerts in canonical order.
// Identical inputs always produce identical output. It fails only when the
// inputs are missing or an enabled rule has no evaluator; nothing is evaluated
// in that case.
func (d *AlertDetector) Detect(snap *snapshot.Snapshot, diff *drift.Result, rules *alert.RuleSet) ([]alert.Alert, error) {
	if snap == nil {
		return nil, errors.SnapshotMismatch("snapshot is required for detection", nil)
	}
	if rules == nil {
		return nil, errors.ConfigurationError("rule set is required for detection", nil)
	}

	enabled := rules.EnabledRules()
	var missing []string
	for _, r := range enabled {
		if _, ok := d.evaluators[r.Category]; !ok {
			missing = append(missing, fmt.Sprintf("rule %s: no evaluator for category %q", r.ID, r.Category))
		}
	}
	if len(missing) > 0 {
		return nil, errors.ConfigurationError("rule set references unknown categories", missing)
	}

	in := Input{Snapshot: snap, Diff: diff, Rules: rules}
	alerts := []alert.Alert{}
	for _, r := range enabled {
		reg := d.evaluators[r.Category]
		if reg.needsDiff && !in.HasChanges() {
			continue
		}
		alerts = append(alerts, reg.evaluate(in, r)...)
	}

	alert.Sort(alerts)
	return alerts, nil
}
