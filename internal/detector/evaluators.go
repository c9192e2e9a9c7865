package detector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
)

const day = 24 * time.Hour

func newAlert(in Input, rule alert.Rule, severity alert.Severity, message string, evidence map[string]interface{}) alert.Alert {
	return alert.Alert{
		Severity:   severity,
		Category:   rule.Category,
		Message:    message,
		Evidence:   evidence,
		DetectedAt: in.Snapshot.CapturedAt(),
	}
}

func userLabel(u snapshot.UserRecord) string {
	if u.Email != "" {
		return fmt.Sprintf("%s (%s)", u.ID, u.Email)
	}
	return u.ID
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func activeUsers(snap *snapshot.Snapshot) []snapshot.UserRecord {
	var out []snapshot.UserRecord
	for _, u := range snap.Users() {
		if u.IsActive() {
			out = append(out, u)
		}
	}
	return out
}

// evaluateInactiveUsers flags users idle longer than threshold days, but only
// when they make up more than aggregate_percent of active users.
func evaluateInactiveUsers(in Input, rule alert.Rule) []alert.Alert {
	now := in.Snapshot.CapturedAt()
	cutoff := now.Add(-time.Duration(rule.Threshold * float64(day)))

	active := activeUsers(in.Snapshot)
	if len(active) == 0 {
		return nil
	}

	var inactive []snapshot.UserRecord
	for _, u := range active {
		if !u.LastActivity.IsZero() && u.LastActivity.Before(cutoff) {
			inactive = append(inactive, u)
		}
	}

	percent := float64(len(inactive)) / float64(len(active)) * 100
	if percent <= rule.Param(alert.ParamAggregatePercent, 30) {
		return nil
	}

	alerts := make([]alert.Alert, 0, len(inactive))
	for _, u := range inactive {
		days := int(now.Sub(u.LastActivity) / day)
		alerts = append(alerts, newAlert(in, rule, rule.Severity,
			fmt.Sprintf("User %s inactive for %d days", userLabel(u), days),
			map[string]interface{}{
				alert.EvidenceUserID:       u.ID,
				alert.EvidenceDaysInactive: days,
			}))
	}
	return alerts
}

// evaluateStorage raises a single alert at the highest tier reached.
func evaluateStorage(in Input, rule alert.Rule) []alert.Alert {
	st := in.Snapshot.Storage()
	if st.Limit <= 0 {
		return nil
	}

	percent := st.UsedPercent()
	severity := rule.Severity
	switch {
	case percent >= rule.Param(alert.ParamCriticalPercent, 90):
		severity = alert.SeverityCritical
	case percent >= rule.Threshold:
	default:
		return nil
	}

	return []alert.Alert{newAlert(in, rule, severity,
		fmt.Sprintf("Storage at %.1f%% of limit (%s of %s)", percent,
			humanize.Bytes(uint64(st.Used)), humanize.Bytes(uint64(st.Limit))),
		map[string]interface{}{
			alert.EvidencePercent: round2(percent),
			"used":                st.Used,
			"limit":               st.Limit,
		})}
}

// escalation is a user who gained admin or owner rights between captures.
type escalation struct {
	change drift.UserChange
	roles  []string
}

func escalations(diff *drift.Result) []escalation {
	var out []escalation
	for _, ch := range diff.Users.Modified {
		var roles []string
		if !ch.Old.IsAdmin && ch.New.IsAdmin {
			roles = append(roles, "admin")
		}
		if !ch.Old.IsOwner && ch.New.IsOwner {
			roles = append(roles, "owner")
		}
		if len(roles) > 0 {
			out = append(out, escalation{change: ch, roles: roles})
		}
	}
	return out
}

func permissionAlerts(in Input, rule alert.Rule, esc escalation) []alert.Alert {
	var alerts []alert.Alert
	for _, role := range esc.roles {
		alerts = append(alerts, newAlert(in, rule, alert.SeverityCritical,
			fmt.Sprintf("User %s was granted %s", userLabel(esc.change.New), role),
			map[string]interface{}{
				alert.EvidenceUserID: esc.change.ID,
				alert.EvidenceRole:   role,
			}))
	}
	return alerts
}

// evaluatePermissionChange reports every new admin or owner grant.
func evaluatePermissionChange(in Input, rule alert.Rule) []alert.Alert {
	var alerts []alert.Alert
	for _, esc := range escalations(in.Diff) {
		alerts = append(alerts, permissionAlerts(in, rule, esc)...)
	}
	return alerts
}

// evaluateNewAdminWithout2FA reports grants to users without two-factor auth.
// When no enabled permission-change rule exists the grants to those users are
// reported too. Grants to users with 2FA stay silent in that case.
func evaluateNewAdminWithout2FA(in Input, rule alert.Rule) []alert.Alert {
	reportGrants := !in.Rules.Enabled(alert.CategoryPermissionChange)
	grantRule := alert.Rule{ID: rule.ID, Category: alert.CategoryPermissionChange, Severity: alert.SeverityCritical}

	var alerts []alert.Alert
	for _, esc := range escalations(in.Diff) {
		if esc.change.New.Has2FA {
			continue
		}
		if reportGrants {
			alerts = append(alerts, permissionAlerts(in, grantRule, esc)...)
		}
		alerts = append(alerts, newAlert(in, rule, alert.SeverityCritical,
			fmt.Sprintf("User %s became %s without two-factor authentication",
				userLabel(esc.change.New), strings.Join(esc.roles, " and ")),
			map[string]interface{}{
				alert.EvidenceUserID: esc.change.ID,
				alert.EvidenceRoles:  esc.roles,
			}))
	}
	return alerts
}

// evaluateMassArchival counts channels archived since the previous capture.
func evaluateMassArchival(in Input, rule alert.Rule) []alert.Alert {
	count := 0
	for _, ch := range in.Diff.Channels.Modified {
		if !ch.Old.IsArchived && ch.New.IsArchived {
			count++
		}
	}
	if float64(count) <= rule.Threshold {
		return nil
	}
	return []alert.Alert{newAlert(in, rule, rule.Severity,
		fmt.Sprintf("%d channels archived since previous snapshot", count),
		map[string]interface{}{alert.EvidenceCount: count})}
}

// evaluateGuestRatio compares guests against the active population.
func evaluateGuestRatio(in Input, rule alert.Rule) []alert.Alert {
	active := activeUsers(in.Snapshot)
	if len(active) == 0 {
		return nil
	}
	guests := 0
	for _, u := range active {
		if u.IsGuest {
			guests++
		}
	}
	percent := float64(guests) / float64(len(active)) * 100
	if percent <= rule.Threshold {
		return nil
	}
	return []alert.Alert{newAlert(in, rule, rule.Severity,
		fmt.Sprintf("Guests make up %.1f%% of active users (%d of %d)", percent, guests, len(active)),
		map[string]interface{}{
			alert.EvidencePercent: round2(percent),
			"guests":              guests,
			"active":              len(active),
		})}
}

// evaluateExternalShare counts live channels shared with other organisations.
func evaluateExternalShare(in Input, rule alert.Rule) []alert.Alert {
	count := 0
	for _, c := range in.Snapshot.Channels() {
		if c.IsExtShared && !c.IsArchived {
			count++
		}
	}
	if float64(count) <= rule.Threshold {
		return nil
	}
	return []alert.Alert{newAlert(in, rule, rule.Severity,
		fmt.Sprintf("%d channels are shared externally", count),
		map[string]interface{}{alert.EvidenceCount: count})}
}

// evaluateDeactivationSpike counts accounts deactivated since the previous capture.
func evaluateDeactivationSpike(in Input, rule alert.Rule) []alert.Alert {
	count := 0
	for _, ch := range in.Diff.Users.Modified {
		if !ch.Old.Deactivated && ch.New.Deactivated {
			count++
		}
	}
	if float64(count) <= rule.Threshold {
		return nil
	}
	return []alert.Alert{newAlert(in, rule, rule.Severity,
		fmt.Sprintf("%d users deactivated since previous snapshot", count),
		map[string]interface{}{alert.EvidenceCount: count})}
}

// evaluateOwnerCoverage flags workspaces with too few active owners. Having
// none at all is always critical.
func evaluateOwnerCoverage(in Input, rule alert.Rule) []alert.Alert {
	owners := 0
	for _, u := range activeUsers(in.Snapshot) {
		if u.IsOwner {
			owners++
		}
	}
	if float64(owners) >= rule.Threshold {
		return nil
	}
	severity := rule.Severity
	message := fmt.Sprintf("Only %d active workspace owners", owners)
	if owners == 0 {
		severity = alert.SeverityCritical
		message = "Workspace has no active owner"
	}
	return []alert.Alert{newAlert(in, rule, severity, message,
		map[string]interface{}{alert.EvidenceCount: owners})}
}

// evaluateAdminChurn counts users whose admin or owner flag flipped either way.
func evaluateAdminChurn(in Input, rule alert.Rule) []alert.Alert {
	count := 0
	for _, ch := range in.Diff.Users.Modified {
		if ch.Old.IsAdmin != ch.New.IsAdmin || ch.Old.IsOwner != ch.New.IsOwner {
			count++
		}
	}
	if float64(count) <= rule.Threshold {
		return nil
	}
	return []alert.Alert{newAlert(in, rule, rule.Severity,
		fmt.Sprintf("%d admin or owner role changes since previous snapshot", count),
		map[string]interface{}{alert.EvidenceCount: count})}
}
