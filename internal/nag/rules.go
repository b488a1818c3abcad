// Package nag runs security lint rules over synthesized resources. Rules are
// declarative YAML; resources opt out of individual findings with
// suppressions that must carry a reason.
package nag

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const SchemaV1 = "jobscraper.nag.v1"

const (
	LevelError   = "error"
	LevelWarning = "warning"
)

type RuleSet struct {
	Schema string `yaml:"schema"`
	Rules  []Rule `yaml:"rules"`
}

// Rule describes a violation: it fires for a resource of one of Types whose
// fields match When. With ForEach set, When is evaluated once per element of
// that list field, and each matching element is a separate finding.
type Rule struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description,omitempty"`
	Level       string         `yaml:"level"`
	Types       []string       `yaml:"types"`
	ForEach     string         `yaml:"for_each,omitempty"`
	FindingID   string         `yaml:"finding_id,omitempty"`
	When        ConditionGroup `yaml:"when"`
}

type ConditionGroup struct {
	All []Condition `yaml:"all,omitempty"`
	Any []Condition `yaml:"any,omitempty"`
}

type Condition struct {
	Field  string   `yaml:"field"`
	Op     string   `yaml:"op"`
	Value  string   `yaml:"value,omitempty"`
	Values []string `yaml:"values,omitempty"`
}

//go:embed rules/default.yaml
var defaultRules []byte

// Default returns the built-in rule pack.
func Default() RuleSet {
	rs, err := ParseRuleSet(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("nag: default rules: %v", err))
	}
	return rs
}

// LoadRuleSet reads a rule pack from a YAML file.
func LoadRuleSet(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRuleSet(raw)
}

func ParseRuleSet(input []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(input, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

func (rs RuleSet) Validate() error {
	if strings.TrimSpace(rs.Schema) != SchemaV1 {
		return fmt.Errorf("rules.schema must be %q", SchemaV1)
	}
	if len(rs.Rules) == 0 {
		return errors.New("rules must be non-empty")
	}
	seen := make(map[string]struct{}, len(rs.Rules))
	for i, rule := range rs.Rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return fmt.Errorf("rules[%d].id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("rules[%d].id must be unique (duplicate %q)", i, id)
		}
		seen[id] = struct{}{}

		switch strings.ToLower(strings.TrimSpace(rule.Level)) {
		case LevelError, LevelWarning:
		default:
			return fmt.Errorf("rules[%d].level unsupported: %q", i, rule.Level)
		}
		if len(trimNonEmpty(rule.Types)) == 0 {
			return fmt.Errorf("rules[%d].types must be non-empty", i)
		}
		if len(rule.When.All) == 0 && len(rule.When.Any) == 0 {
			return fmt.Errorf("rules[%d].when must include all or any", i)
		}
		if err := validateConditions(rule.When.All, fmt.Sprintf("rules[%d].when.all", i)); err != nil {
			return err
		}
		if err := validateConditions(rule.When.Any, fmt.Sprintf("rules[%d].when.any", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateConditions(conds []Condition, prefix string) error {
	for i, cond := range conds {
		if strings.TrimSpace(cond.Field) == "" {
			return fmt.Errorf("%s[%d].field is required", prefix, i)
		}
		op := strings.ToLower(strings.TrimSpace(cond.Op))
		switch op {
		case "exists", "missing":
		case "in", "not_in":
			if len(trimNonEmpty(cond.Values)) == 0 {
				return fmt.Errorf("%s[%d].values must be non-empty for %s", prefix, i, op)
			}
		case "eq", "neq", "contains", "not_contains", "matches", "gt", "gte", "lt", "lte":
			if strings.TrimSpace(cond.Value) == "" {
				return fmt.Errorf("%s[%d].value is required for %s", prefix, i, op)
			}
		case "":
			return fmt.Errorf("%s[%d].op is required", prefix, i)
		default:
			return fmt.Errorf("%s[%d].op unsupported: %q", prefix, i, cond.Op)
		}
	}
	return nil
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
