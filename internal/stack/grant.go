package stack

import (
	"errors"
	"fmt"
)

type Statement struct {
	Effect   string `json:"Effect"`
	Action   string `json:"Action"`
	Resource any    `json:"Resource"`
}

// Policy is an inline IAM policy attached to one execution role.
type Policy struct {
	base
	roleID     string
	Statements []Statement
}

func (p *Policy) Validate() error {
	if len(p.Statements) == 0 {
		return errors.New("policy has no statements")
	}
	for i, s := range p.Statements {
		if s.Effect != "Allow" && s.Effect != "Deny" {
			return fmt.Errorf("statement %d: effect %q", i, s.Effect)
		}
		if s.Action == "" || s.Resource == nil {
			return fmt.Errorf("statement %d: action and resource are required", i)
		}
	}
	return nil
}

func (p *Policy) Descriptor() Descriptor {
	return Descriptor{
		Type: "AWS::IAM::Policy",
		Properties: map[string]any{
			"PolicyName": p.ID(),
			"PolicyDocument": map[string]any{
				"Version":   policyVersion,
				"Statement": p.Statements,
			},
			"Roles": []any{Ref(p.roleID)},
		},
	}
}

// GrantPublish lets fn publish to channel and nothing else: one statement,
// sns:Publish, scoped to the channel's topic. The function waits for the
// policy so it never runs without the permission.
func GrantPublish(app *App, id string, channel *Channel, fn *Function) (*Policy, error) {
	if channel == nil || fn == nil {
		return nil, errors.New("grant publish: channel and function are required")
	}
	policy := &Policy{
		base:   base{id: id},
		roleID: fn.Role().ID(),
		Statements: []Statement{{
			Effect:   "Allow",
			Action:   "sns:Publish",
			Resource: channel.TopicARN(),
		}},
	}
	if err := app.Add(policy); err != nil {
		return nil, err
	}
	fn.addDependency(policy.ID())
	return policy, nil
}
