package alert

import (
	"fmt"
	"sort"
	"time"
)

// Alert is a single detected anomaly. Two alerts with the same category and
// evidence describe the same finding.
type Alert struct {
	Severity   Severity               `json:"severity" yaml:"severity"`
	Category   Category               `json:"category" yaml:"category"`
	Message    string                 `json:"message" yaml:"message"`
	Evidence   map[string]interface{} `json:"evidence" yaml:"evidence"`
	DetectedAt time.Time              `json:"detected_at" yaml:"detected_at"`
}

// Evidence keys shared by the built-in evaluators.
const (
	EvidenceUserID       = "user_id"
	EvidenceChannelID    = "channel_id"
	EvidenceRole         = "role"
	EvidenceRoles        = "roles"
	EvidenceCount        = "count"
	EvidenceDaysInactive = "days_inactive"
	EvidencePercent      = "percent"
)

// EntityID returns the user or channel the alert is about, or "" for aggregate alerts.
func (a Alert) EntityID() string {
	for _, key := range []string{EvidenceUserID, EvidenceChannelID} {
		if v, ok := a.Evidence[key]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Less orders alerts by severity (most urgent first), category, entity id, then message.
func Less(a, b Alert) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if ea, eb := a.EntityID(), b.EntityID(); ea != eb {
		return ea < eb
	}
	return a.Message < b.Message
}

// Sort orders alerts in place using Less.
func Sort(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool { return Less(alerts[i], alerts[j]) })
}

// Highest returns the most urgent severity in alerts, or 0 when empty.
func Highest(alerts []Alert) Severity {
	var top Severity
	for _, a := range alerts {
		if a.Severity > top {
			top = a.Severity
		}
	}
	return top
}

// AtLeast returns the alerts whose severity is min or higher.
func AtLeast(alerts []Alert, min Severity) []Alert {
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity >= min {
			out = append(out, a)
		}
	}
	return out
}

// Summary counts a batch of alerts.
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[string]int   `json:"by_severity"`
	ByCategory map[Category]int `json:"by_category"`
}

// Summarize builds a Summary for alerts. Every severity level is present in BySeverity.
func Summarize(alerts []Alert) Summary {
	s := Summary{
		Total:      len(alerts),
		BySeverity: make(map[string]int, 3),
		ByCategory: make(map[Category]int),
	}
	for _, sev := range AllSeverities() {
		s.BySeverity[sev.String()] = 0
	}
	for _, a := range alerts {
		s.BySeverity[a.Severity.String()]++
		s.ByCategory[a.Category]++
	}
	return s
}

// Filter selects alerts. Zero values match everything.
type Filter struct {
	Severity Severity
	Category Category
}

// Match reports whether a satisfies the filter.
func (f Filter) Match(a Alert) bool {
	if f.Severity != 0 && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	return true
}
