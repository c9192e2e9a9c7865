package alert

import (
	"fmt"
	"sort"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/validator"
)

// Category names the kind of anomaly a rule looks for.
type Category string

// Built-in categories
const (
	CategoryInactiveUsers      Category = "inactive-users"
	CategoryStorage            Category = "storage"
	CategoryPermissionChange   Category = "permission-change"
	CategoryNewAdminWithout2FA Category = "new-admin-without-2fa"
	CategoryMassArchival       Category = "mass-archival"
	CategoryGuestRatio         Category = "guest-ratio"
	CategoryExternalShare      Category = "external-share"
	CategoryDeactivationSpike  Category = "deactivation-spike"
	CategoryOwnerCoverage      Category = "owner-coverage"
	CategoryAdminChurn         Category = "admin-churn"
)

// BuiltinCategories returns the categories the detector evaluates out of the box.
func BuiltinCategories() []Category {
	return []Category{
		CategoryInactiveUsers,
		CategoryStorage,
		CategoryPermissionChange,
		CategoryNewAdminWithout2FA,
		CategoryMassArchival,
		CategoryGuestRatio,
		CategoryExternalShare,
		CategoryDeactivationSpike,
		CategoryOwnerCoverage,
		CategoryAdminChurn,
	}
}

// Secondary threshold names used in Rule.Params.
const (
	ParamAggregatePercent = "aggregate_percent"
	ParamCriticalPercent  = "critical_percent"
)

// Rule configures one evaluator.
type Rule struct {
	ID        string             `json:"id" yaml:"id" validate:"required"`
	Category  Category           `json:"category" yaml:"category" validate:"required"`
	Enabled   bool               `json:"enabled" yaml:"enabled"`
	Threshold float64            `json:"threshold" yaml:"threshold" validate:"gte=0"`
	Severity  Severity           `json:"severity" yaml:"severity"`
	Params    map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns a secondary threshold or def when unset.
func (r Rule) Param(name string, def float64) float64 {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}

// RuleSet is an ordered, validated collection of rules. It is read-only once built.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates rules and builds a RuleSet. Categories other than the
// built-in ones are accepted only when listed in extra. Any problem is reported
// as a configuration error carrying every offending field.
func NewRuleSet(rules []Rule, extra ...Category) (*RuleSet, error) {
	known := make(map[Category]bool)
	for _, c := range BuiltinCategories() {
		known[c] = true
	}
	for _, c := range extra {
		known[c] = true
	}

	var problems []string
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		prefix := fmt.Sprintf("rules[%d]", i)
		for _, ve := range validator.Validate(r) {
			problems = append(problems, fmt.Sprintf("%s: %s", prefix, ve.Message))
		}
		if r.ID != "" {
			if seen[r.ID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate rule id %q", prefix, r.ID))
			}
			seen[r.ID] = true
		}
		if r.Category != "" && !known[r.Category] {
			problems = append(problems, fmt.Sprintf("%s: unknown category %q", prefix, r.Category))
		}
		if !r.Severity.Valid() {
			problems = append(problems, fmt.Sprintf("%s: severity must be one of [info warning critical]", prefix))
		}
		for _, name := range sortedParamNames(r.Params) {
			if r.Params[name] < 0 {
				problems = append(problems, fmt.Sprintf("%s: params.%s must be non-negative", prefix, name))
			}
		}
		if r.Category == CategoryStorage {
			if crit, ok := r.Params[ParamCriticalPercent]; ok && crit < r.Threshold {
				problems = append(problems, fmt.Sprintf("%s: params.%s must not be below threshold", prefix, ParamCriticalPercent))
			}
		}
	}

	if len(problems) > 0 {
		return nil, errors.ConfigurationError("invalid rule set", problems)
	}

	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r
		if r.Params != nil {
			out[i].Params = make(map[string]float64, len(r.Params))
			for k, v := range r.Params {
				out[i].Params[k] = v
			}
		}
	}
	return &RuleSet{rules: out}, nil
}

func sortedParamNames(params map[string]float64) []string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Rules returns a copy of the rules in configuration order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// EnabledRules returns the enabled rules in configuration order.
func (rs *RuleSet) EnabledRules() []Rule {
	var out []Rule
	for _, r := range rs.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Enabled reports whether any enabled rule targets category.
func (rs *RuleSet) Enabled(category Category) bool {
	for _, r := range rs.rules {
		if r.Enabled && r.Category == category {
			return true
		}
	}
	return false
}

// Get returns the rule with the given id.
func (rs *RuleSet) Get(id string) (Rule, bool) {
	for _, r := range rs.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// DefaultRules returns the stock thresholds.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "inactive-users", Category: CategoryInactiveUsers, Enabled: true, Threshold: 90, Severity: SeverityWarning,
			Params: map[string]float64{ParamAggregatePercent: 30}},
		{ID: "storage", Category: CategoryStorage, Enabled: true, Threshold: 75, Severity: SeverityWarning,
			Params: map[string]float64{ParamCriticalPercent: 90}},
		{ID: "permission-change", Category: CategoryPermissionChange, Enabled: true, Severity: SeverityCritical},
		{ID: "new-admin-without-2fa", Category: CategoryNewAdminWithout2FA, Enabled: true, Severity: SeverityCritical},
		{ID: "mass-archival", Category: CategoryMassArchival, Enabled: true, Threshold: 10, Severity: SeverityWarning},
		{ID: "guest-ratio", Category: CategoryGuestRatio, Enabled: true, Threshold: 20, Severity: SeverityWarning},
		{ID: "external-share", Category: CategoryExternalShare, Enabled: true, Threshold: 50, Severity: SeverityInfo},
		{ID: "deactivation-spike", Category: CategoryDeactivationSpike, Enabled: true, Threshold: 5, Severity: SeverityCritical},
		{ID: "owner-coverage", Category: CategoryOwnerCoverage, Enabled: true, Threshold: 2, Severity: SeverityWarning},
		{ID: "admin-churn", Category: CategoryAdminChurn, Enabled: true, Threshold: 3, Severity: SeverityWarning},
	}
}

// DefaultRuleSet builds the stock rule set.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("default rules are invalid: %v", err))
	}
	return rs
}
