package stack

import (
	"errors"

	"github.com/animus-labs/jobscraper/internal/schedule"
)

// ScheduleRule invokes a function once a day. Retries on failed invocations
// are left to the event service.
type ScheduleRule struct {
	base
	Schedule schedule.Daily
	targetID string
}

func (r *ScheduleRule) Validate() error {
	if r.targetID == "" {
		return errors.New("rule has no target")
	}
	return nil
}

func (r *ScheduleRule) Descriptor() Descriptor {
	return Descriptor{
		Type: "AWS::Events::Rule",
		Properties: map[string]any{
			"ScheduleExpression": r.Schedule.AWSExpression(),
			"State":              "ENABLED",
			"Targets": []any{map[string]any{
				"Arn": GetAtt(r.targetID, "Arn"),
				"Id":  "Target0",
			}},
		},
	}
}

// InvokePermission allows the event service to call the function for one rule.
type InvokePermission struct {
	base
	functionID string
	ruleID     string
}

func (p *InvokePermission) Validate() error { return nil }

func (p *InvokePermission) Descriptor() Descriptor {
	return Descriptor{
		Type: "AWS::Lambda::Permission",
		Properties: map[string]any{
			"Action":       "lambda:InvokeFunction",
			"FunctionName": GetAtt(p.functionID, "Arn"),
			"Principal":    "events.amazonaws.com",
			"SourceArn":    GetAtt(p.ruleID, "Arn"),
		},
	}
}

// NewRule schedules fn on daily and adds the matching invoke permission.
func NewRule(app *App, id string, daily schedule.Daily, fn *Function) (*ScheduleRule, error) {
	if fn == nil {
		return nil, errors.New("schedule rule: target function is required")
	}
	rule := &ScheduleRule{base: base{id: id}, Schedule: daily, targetID: fn.ID()}
	if err := app.Add(rule); err != nil {
		return nil, err
	}
	perm := &InvokePermission{
		base:       base{id: id + "AllowEventRule" + fn.ID()},
		functionID: fn.ID(),
		ruleID:     id,
	}
	if err := app.Add(perm); err != nil {
		return nil, err
	}
	return rule, nil
}
