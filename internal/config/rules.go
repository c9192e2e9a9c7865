package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// Rule file formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ruleFile is the on-disk document. Enabled is a pointer so that omitting it
// means enabled.
type ruleFile struct {
	Rules []fileRule `json:"rules" yaml:"rules"`
}

type fileRule struct {
	ID        string             `json:"id" yaml:"id"`
	Category  alert.Category     `json:"category" yaml:"category"`
	Enabled   *bool              `json:"enabled" yaml:"enabled"`
	Threshold float64            `json:"threshold" yaml:"threshold"`
	Severity  alert.Severity     `json:"severity" yaml:"severity"`
	Params    map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

func (f fileRule) rule() alert.Rule {
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	return alert.Rule{
		ID:        f.ID,
		Category:  f.Category,
		Enabled:   enabled,
		Threshold: f.Threshold,
		Severity:  f.Severity,
		Params:    f.Params,
	}
}

// FormatForPath picks the rule file format from the extension.
func FormatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.ConfigurationError(fmt.Sprintf("unsupported rules file extension %q", filepath.Ext(path)), nil)
	}
}

// LoadRules reads a JSON or YAML rules file. The document is either a list of
// rules or an object with a "rules" list.
func LoadRules(path string) ([]alert.Rule, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("failed to read rules file %s", path), err.Error())
	}
	return ParseRules(data, format)
}

// ParseRules decodes rules in the given format.
func ParseRules(data []byte, format string) ([]alert.Rule, error) {
	var (
		raw []fileRule
		err error
	)
	switch format {
	case FormatJSON:
		raw, err = parseJSONRules(data)
	case FormatYAML:
		raw, err = parseYAMLRules(data)
	default:
		return nil, errors.ConfigurationError(fmt.Sprintf("unsupported rules format %q", format), nil)
	}
	if err != nil {
		return nil, errors.ConfigurationError("failed to parse rules", err.Error())
	}
	if len(raw) == 0 {
		return nil, errors.ConfigurationError("rules file contains no rules", nil)
	}

	rules := make([]alert.Rule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, r.rule())
	}
	return rules, nil
}

func parseJSONRules(data []byte) ([]fileRule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []fileRule
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var doc ruleFile
	err := json.Unmarshal(trimmed, &doc)
	return doc.Rules, err
}

func parseYAMLRules(data []byte) ([]fileRule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var list []fileRule
		err := node.Content[0].Decode(&list)
		return list, err
	}
	var doc ruleFile
	err := node.Content[0].Decode(&doc)
	return doc.Rules, err
}

// LoadRuleSet loads and validates the rules at path. An empty path yields the
// default rules.
func LoadRuleSet(path string, extra ...alert.Category) (*alert.RuleSet, error) {
	if path == "" {
		return alert.NewRuleSet(alert.DefaultRules(), extra...)
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return alert.NewRuleSet(rules, extra...)
}

// MarshalRules encodes rules for `rules defaults` and friends.
func MarshalRules(rules []alert.Rule, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(ruleFile{Rules: toFileRules(rules)}, "", "  ")
	case FormatYAML:
		return yaml.Marshal(ruleFile{Rules: toFileRules(rules)})
	default:
		return nil, errors.ConfigurationError(fmt.Sprintf("unsupported rules format %q", format), nil)
	}
}

func toFileRules(rules []alert.Rule) []fileRule {
	out := make([]fileRule, 0, len(rules))
	for _, r := range rules {
		enabled := r.Enabled
		out = append(out, fileRule{
			ID:        r.ID,
			Category:  r.Category,
			Enabled:   &enabled,
			Threshold: r.Threshold,
			Severity:  r.Severity,
			Params:    r.Params,
		})
	}
	return out
}
