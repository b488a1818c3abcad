package nag

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Subject is one resource as the rules see it. Fields holds the resource in
// its JSON form: Type, Properties, Metadata and ReferencedBy (the types of
// resources that reference it).
type Subject struct {
	ID           string
	Type         string
	Fields       map[string]any
	Suppressions []Suppression
}

type Finding struct {
	RuleID       string `json:"rule_id"`
	Level        string `json:"level"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	FindingID    string `json:"finding_id,omitempty"`
	Description  string `json:"description,omitempty"`
	Suppressed   bool   `json:"suppressed"`
	Reason       string `json:"reason,omitempty"`
}

// Check evaluates every rule against every subject. Findings come out in
// subject order, then rule order.
func Check(rs RuleSet, subjects []Subject) (Report, error) {
	if err := rs.Validate(); err != nil {
		return Report{}, err
	}
	var report Report
	for _, subject := range subjects {
		if err := validateSuppressions(subject); err != nil {
			return Report{}, err
		}
		for _, rule := range rs.Rules {
			if !appliesToType(rule, subject.Type) {
				continue
			}
			for _, findingID := range ruleFindings(rule, subject.Fields) {
				finding := Finding{
					RuleID:       strings.TrimSpace(rule.ID),
					Level:        strings.ToLower(strings.TrimSpace(rule.Level)),
					ResourceID:   subject.ID,
					ResourceType: subject.Type,
					FindingID:    findingID,
					Description:  strings.TrimSpace(rule.Description),
				}
				if s, ok := matchSuppression(subject.Suppressions, finding); ok {
					finding.Suppressed = true
					finding.Reason = s.Reason
				}
				report.Findings = append(report.Findings, finding)
			}
		}
	}
	return report, nil
}

func appliesToType(rule Rule, resourceType string) bool {
	for _, t := range rule.Types {
		if strings.TrimSpace(t) == resourceType {
			return true
		}
	}
	return false
}

// ruleFindings returns one entry per violation. Rules without ForEach yield at
// most one finding with an empty id.
func ruleFindings(rule Rule, fields map[string]any) []string {
	forEach := strings.TrimSpace(rule.ForEach)
	if forEach == "" {
		if groupMatches(rule.When, fields) {
			return []string{""}
		}
		return nil
	}
	value, ok := resolvePath(fields, forEach)
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	var out []string
	for _, item := range items {
		scope := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			scope[k] = v
		}
		scope["item"] = item
		if groupMatches(rule.When, scope) {
			out = append(out, rule.FindingID+RenderValue(item))
		}
	}
	return out
}

func groupMatches(group ConditionGroup, fields map[string]any) bool {
	for _, cond := range group.All {
		if !conditionMatches(cond, fields) {
			return false
		}
	}
	if len(group.Any) > 0 {
		for _, cond := range group.Any {
			if conditionMatches(cond, fields) {
				return true
			}
		}
		return false
	}
	return true
}

func conditionMatches(cond Condition, fields map[string]any) bool {
	value, ok := resolvePath(fields, cond.Field)
	op := strings.ToLower(strings.TrimSpace(cond.Op))
	switch op {
	case "exists":
		return ok
	case "missing":
		return !ok
	case "neq", "not_in", "not_contains":
		if !ok {
			return true
		}
	default:
		if !ok {
			return false
		}
	}
	switch op {
	case "eq":
		return compareEqual(value, cond.Value)
	case "neq":
		return !compareEqual(value, cond.Value)
	case "in":
		return compareIn(value, cond.Values)
	case "not_in":
		return !compareIn(value, cond.Values)
	case "contains":
		return compareContains(value, cond.Value)
	case "not_contains":
		return !compareContains(value, cond.Value)
	case "matches":
		return compareRegex(value, cond.Value)
	case "gt", "gte", "lt", "lte":
		return compareNumber(value, cond.Value, op)
	default:
		return false
	}
}

// resolvePath walks dotted paths through maps and list indexes. Keys are
// case-sensitive, as in the template.
func resolvePath(root map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || root == nil {
		return nil, false
	}
	var current any = root
	for _, part := range strings.Split(path, ".") {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(part)
			if err != nil || index < 0 || index >= len(typed) {
				return nil, false
			}
			current = typed[index]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

// RenderValue prints a template value the way findings and suppressions
// refer to it: intrinsic references become <Name> placeholders, so
// {"Fn::Join": ["", ["arn:", {"Ref": "AWS::Partition"}, ":iam::aws:policy/x"]]}
// renders as arn:<AWS::Partition>:iam::aws:policy/x.
func RenderValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case map[string]any:
		if ref, ok := typed["Ref"].(string); ok && len(typed) == 1 {
			return "<" + ref + ">"
		}
		if att, ok := typed["Fn::GetAtt"].([]any); ok && len(typed) == 1 && len(att) == 2 {
			return fmt.Sprintf("<%s.%s>", RenderValue(att[0]), RenderValue(att[1]))
		}
		if join, ok := typed["Fn::Join"].([]any); ok && len(typed) == 1 && len(join) == 2 {
			sep, _ := join[0].(string)
			parts, _ := join[1].([]any)
			rendered := make([]string, 0, len(parts))
			for _, p := range parts {
				rendered = append(rendered, RenderValue(p))
			}
			return strings.Join(rendered, sep)
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

func compareEqual(value any, target string) bool {
	target = normalizeString(target)
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if normalizeString(RenderValue(item)) == target {
				return true
			}
		}
		return false
	}
	return normalizeString(RenderValue(value)) == target
}

func compareIn(value any, targets []string) bool {
	normalized := make(map[string]struct{}, len(targets))
	for _, t := range trimNonEmpty(targets) {
		normalized[normalizeString(t)] = struct{}{}
	}
	if len(normalized) == 0 {
		return false
	}
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if _, hit := normalized[normalizeString(RenderValue(item))]; hit {
				return true
			}
		}
		return false
	}
	_, hit := normalized[normalizeString(RenderValue(value))]
	return hit
}

func compareContains(value any, target string) bool {
	target = normalizeString(target)
	if target == "" {
		return false
	}
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if normalizeString(RenderValue(item)) == target {
				return true
			}
		}
		return false
	}
	return strings.Contains(normalizeString(RenderValue(value)), target)
}

func compareRegex(value any, pattern string) bool {
	re, err := regexp.Compile(strings.TrimSpace(pattern))
	if err != nil {
		return false
	}
	if items, ok := value.([]any); ok {
		for _, item := range items {
			if re.MatchString(RenderValue(item)) {
				return true
			}
		}
		return false
	}
	return re.MatchString(RenderValue(value))
}

func compareNumber(value any, target string, op string) bool {
	left, ok := toFloat64(value)
	if !ok {
		return false
	}
	right, ok := toFloat64(target)
	if !ok {
		return false
	}
	switch op {
	case "gt":
		return left > right
	case "gte":
		return left >= right
	case "lt":
		return left < right
	case "lte":
		return left <= right
	default:
		return false
	}
}

func toFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func normalizeString(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
