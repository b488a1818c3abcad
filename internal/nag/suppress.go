package nag

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// minReasonLength matches the threshold the AWS Solutions checks enforce.
const minReasonLength = 10

// Suppression silences one rule on one resource. AppliesTo narrows it to
// specific finding ids; an entry written as /pattern/ (trailing flags
// allowed) is a regular expression, anything else must match exactly. An
// empty AppliesTo suppresses every finding of the rule.
type Suppression struct {
	ID        string   `json:"id" yaml:"id"`
	Reason    string   `json:"reason" yaml:"reason"`
	AppliesTo []string `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
}

func (s Suppression) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("suppression id is required")
	}
	if len(strings.TrimSpace(s.Reason)) < minReasonLength {
		return fmt.Errorf("suppression %s: reason must be at least %d characters", s.ID, minReasonLength)
	}
	for _, pattern := range s.AppliesTo {
		if _, err := compileAppliesTo(pattern); err != nil {
			return fmt.Errorf("suppression %s: applies_to %q: %w", s.ID, pattern, err)
		}
	}
	return nil
}

func validateSuppressions(subject Subject) error {
	for _, s := range subject.Suppressions {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("resource %s: %w", subject.ID, err)
		}
	}
	return nil
}

func matchSuppression(suppressions []Suppression, finding Finding) (Suppression, bool) {
	for _, s := range suppressions {
		if strings.TrimSpace(s.ID) != finding.RuleID {
			continue
		}
		if len(s.AppliesTo) == 0 {
			return s, true
		}
		for _, pattern := range s.AppliesTo {
			re, err := compileAppliesTo(pattern)
			if err != nil {
				continue
			}
			if re == nil && pattern == finding.FindingID {
				return s, true
			}
			if re != nil && re.MatchString(finding.FindingID) {
				return s, true
			}
		}
	}
	return Suppression{}, false
}

// compileAppliesTo returns nil for literal entries.
func compileAppliesTo(pattern string) (*regexp.Regexp, error) {
	if len(pattern) < 2 || pattern[0] != '/' {
		return nil, nil
	}
	end := strings.LastIndex(pattern, "/")
	if end == 0 {
		return nil, nil
	}
	flags := pattern[end+1:]
	expr := pattern[1:end]
	for _, f := range flags {
		switch f {
		case 'i':
			expr = "(?i)" + expr
		case 'g', 'm', 'u':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	return regexp.Compile(expr)
}
