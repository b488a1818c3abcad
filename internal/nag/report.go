package nag

import (
	"fmt"
	"strings"
)

type Report struct {
	Findings []Finding `json:"findings"`
}

// Blocking returns unsuppressed error-level findings.
func (r Report) Blocking() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.Suppressed && f.Level == LevelError {
			out = append(out, f)
		}
	}
	return out
}

func (r Report) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.Suppressed && f.Level == LevelWarning {
			out = append(out, f)
		}
	}
	return out
}

func (r Report) Err() error {
	if blocking := r.Blocking(); len(blocking) > 0 {
		return &Error{Findings: blocking}
	}
	return nil
}

// Error is returned when unsuppressed error-level findings remain.
type Error struct {
	Findings []Finding
}

func (e *Error) Error() string {
	lines := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		line := fmt.Sprintf("%s on %s", f.RuleID, f.ResourceID)
		if f.FindingID != "" {
			line += " [" + f.FindingID + "]"
		}
		if f.Description != "" {
			line += ": " + f.Description
		}
		lines = append(lines, line)
	}
	return "security checks failed: " + strings.Join(lines, "; ")
}
