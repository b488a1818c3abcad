// Package schedule validates the daily trigger expression and renders it in
// the six-field form the event scheduler expects.
package schedule

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultExpression fires at 09:00 UTC every day.
const DefaultExpression = "0 9 * * *"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// field masks, excluding robfig's star bit (1<<63)
const (
	allDom   = uint64(1<<32-1) &^ 1
	allMonth = uint64(1<<13-1) &^ 1
	allDow   = uint64(1<<7 - 1)
	valueMax = uint64(1<<62 - 1)
)

// Daily is a once-a-day firing time in UTC.
type Daily struct {
	Minute int
	Hour   int

	spec *cron.SpecSchedule
}

// ParseDaily accepts a five-field cron expression (or @daily) that fires
// exactly once per day. Times are always UTC; CRON_TZ prefixes are rejected.
func ParseDaily(expr string) (Daily, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Daily{}, fmt.Errorf("schedule expression is required")
	}
	if strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return Daily{}, fmt.Errorf("schedule %q: time zones are not supported, schedules run in UTC", expr)
	}
	parsed, err := parser.Parse(expr)
	if err != nil {
		return Daily{}, fmt.Errorf("schedule %q: %w", expr, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Daily{}, fmt.Errorf("schedule %q: interval schedules are not supported", expr)
	}
	if spec.Dom&allDom != allDom || spec.Month&allMonth != allMonth || spec.Dow&allDow != allDow {
		return Daily{}, fmt.Errorf("schedule %q: day-of-month, month and day-of-week must be *", expr)
	}
	minute, ok := single(spec.Minute)
	if !ok {
		return Daily{}, fmt.Errorf("schedule %q: minute must be a single value", expr)
	}
	hour, ok := single(spec.Hour)
	if !ok {
		return Daily{}, fmt.Errorf("schedule %q: hour must be a single value", expr)
	}
	spec.Location = time.UTC
	return Daily{Minute: minute, Hour: hour, spec: spec}, nil
}

// MustParseDaily is ParseDaily for constants.
func MustParseDaily(expr string) Daily {
	d, err := ParseDaily(expr)
	if err != nil {
		panic(err)
	}
	return d
}

func single(field uint64) (int, bool) {
	field &= valueMax
	if bits.OnesCount64(field) != 1 {
		return 0, false
	}
	return bits.TrailingZeros64(field), true
}

// Expression is the canonical five-field form.
func (d Daily) Expression() string {
	return fmt.Sprintf("%d %d * * *", d.Minute, d.Hour)
}

// AWSExpression renders the EventBridge six-field form, e.g. cron(0 9 * * ? *).
func (d Daily) AWSExpression() string {
	return fmt.Sprintf("cron(%d %d * * ? *)", d.Minute, d.Hour)
}

// Next returns the first firing strictly after t, in UTC.
func (d Daily) Next(t time.Time) time.Time {
	if d.spec == nil {
		d = MustParseDaily(d.Expression())
	}
	return d.spec.Next(t.UTC())
}

func (d Daily) String() string { return d.Expression() }
