package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrBuild         = errors.New("build error")
	ErrSubscription  = errors.New("subscription error")
	ErrRuntime       = errors.New("runtime error")
)

// Build stages reported by BuildError.
const (
	StageValidate  = "validate"
	StageManifest  = "manifest"
	StageContainer = "container"
	StageOutput    = "output"
	StagePackage   = "package"
	StagePublish   = "publish"
	StageRecord    = "record"
)

// BuildError reports a failed dependency bundle build. Nothing is published
// when one is returned.
type BuildError struct {
	Bundle string
	Stage  string
	Err    error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("bundle %q: %s failed", e.Bundle, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrBuild, e.Err}
}

// SubscriptionError reports a single subscriber address that could not be
// subscribed. Other addresses are unaffected.
type SubscriptionError struct {
	Channel string
	Address string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("channel %q: subscribe %q: %v", e.Channel, e.Address, e.Err)
}

func (e *SubscriptionError) Unwrap() []error {
	return []error{ErrSubscription, e.Err}
}

// ValidationError aggregates validation issues.
type ValidationError struct {
	Subject string
	Issues  []string
}

func (e *ValidationError) Error() string {
	prefix := "validation failed"
	if e.Subject != "" {
		prefix = e.Subject + " validation failed"
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) Addf(format string, args ...any) {
	e.Add(fmt.Sprintf(format, args...))
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
