package alert

import (
	"encoding/json"
	"testing"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"gopkg.in/yaml.v3"
)

func TestNewRuleSet(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		extra   []Category
		wantErr bool
	}{
		{name: "defaults", rules: DefaultRules()},
		{name: "empty", rules: nil},
		{
			name:    "negative threshold",
			rules:   []Rule{{ID: "g", Category: CategoryGuestRatio, Threshold: -1, Severity: SeverityWarning}},
			wantErr: true,
		},
		{
			name: "negative param",
			rules: []Rule{{ID: "i", Category: CategoryInactiveUsers, Threshold: 90, Severity: SeverityWarning,
				Params: map[string]float64{ParamAggregatePercent: -5}}},
			wantErr: true,
		},
		{
			name:    "unknown severity",
			rules:   []Rule{{ID: "g", Category: CategoryGuestRatio, Threshold: 20, Severity: Severity(9)}},
			wantErr: true,
		},
		{
			name: "duplicate id",
			rules: []Rule{
				{ID: "g", Category: CategoryGuestRatio, Threshold: 20, Severity: SeverityWarning},
				{ID: "g", Category: CategoryMassArchival, Threshold: 10, Severity: SeverityWarning},
			},
			wantErr: true,
		},
		{
			name:    "unknown category",
			rules:   []Rule{{ID: "x", Category: "bot-count", Severity: SeverityInfo}},
			wantErr: true,
		},
		{
			name:  "custom category registered",
			rules: []Rule{{ID: "x", Category: "bot-count", Severity: SeverityInfo}},
			extra: []Category{"bot-count"},
		},
		{
			name: "critical below warning",
			rules: []Rule{{ID: "s", Category: CategoryStorage, Threshold: 80, Severity: SeverityWarning,
				Params: map[string]float64{ParamCriticalPercent: 70}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := NewRuleSet(tt.rules, tt.extra...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRuleSet() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.HasCode(err, errors.ErrCodeConfiguration) {
					t.Errorf("error code = %v, want configuration error", err)
				}
				return
			}
			if rs.Len() != len(tt.rules) {
				t.Errorf("Len() = %d, want %d", rs.Len(), len(tt.rules))
			}
		})
	}
}

func TestRuleSet_CopiesInput(t *testing.T) {
	rules := []Rule{{ID: "i", Category: CategoryInactiveUsers, Enabled: true, Threshold: 90, Severity: SeverityWarning,
		Params: map[string]float64{ParamAggregatePercent: 20}}}
	rs, err := NewRuleSet(rules)
	if err != nil {
		t.Fatal(err)
	}

	rules[0].Threshold = 1
	rules[0].Params[ParamAggregatePercent] = 99

	got, _ := rs.Get("i")
	if got.Threshold != 90 || got.Param(ParamAggregatePercent, 0) != 20 {
		t.Errorf("rule set changed with its input: %+v", got)
	}
	if !rs.Enabled(CategoryInactiveUsers) || rs.Enabled(CategoryStorage) {
		t.Error("Enabled() reports wrong categories")
	}
}

func TestSeverity_Encoding(t *testing.T) {
	var r Rule
	if err := json.Unmarshal([]byte(`{"id":"a","category":"storage","severity":"CRITICAL"}`), &r); err != nil {
		t.Fatalf("json: %v", err)
	}
	if r.Severity != SeverityCritical {
		t.Errorf("json severity = %v", r.Severity)
	}

	if err := yaml.Unmarshal([]byte("id: b\ncategory: storage\nseverity: warning\n"), &r); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if r.Severity != SeverityWarning {
		t.Errorf("yaml severity = %v", r.Severity)
	}

	out, err := json.Marshal(Alert{Severity: SeverityInfo})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	_ = json.Unmarshal(out, &decoded)
	if decoded["severity"] != "info" {
		t.Errorf("encoded severity = %v", decoded["severity"])
	}

	if err := json.Unmarshal([]byte(`{"severity":"urgent"}`), &r); err == nil {
		t.Error("unknown severity accepted")
	}
}

func TestSortAndSummarize(t *testing.T) {
	alerts := []Alert{
		{Severity: SeverityWarning, Category: CategoryGuestRatio, Message: "g"},
		{Severity: SeverityCritical, Category: CategoryPermissionChange, Message: "p2", Evidence: map[string]interface{}{"user_id": "U2"}},
		{Severity: SeverityCritical, Category: CategoryPermissionChange, Message: "p1", Evidence: map[string]interface{}{"user_id": "U1"}},
		{Severity: SeverityInfo, Category: CategoryExternalShare, Message: "e"},
	}
	Sort(alerts)

	want := []string{"p1", "p2", "g", "e"}
	for i, a := range alerts {
		if a.Message != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, a.Message, want[i])
		}
	}

	s := Summarize(alerts)
	if s.Total != 4 || s.BySeverity["critical"] != 2 || s.ByCategory[CategoryPermissionChange] != 2 {
		t.Errorf("Summarize() = %+v", s)
	}
	if Highest(alerts) != SeverityCritical || Highest(nil) != 0 {
		t.Error("Highest() wrong")
	}
	if got := len(AtLeast(alerts, SeverityWarning)); got != 3 {
		t.Errorf("AtLeast(warning) = %d alerts", got)
	}
}
