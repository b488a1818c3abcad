package stack

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/animus-labs/jobscraper/internal/config"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/platform/env"
)

// Topic is the SNS topic behind a Channel.
type Topic struct {
	base
	DisplayName string
}

func (t *Topic) Validate() error {
	// SNS caps display names at 100 characters
	if n := len(t.DisplayName); n > 100 {
		return fmt.Errorf("display name is %d characters, max 100", n)
	}
	return nil
}

func (t *Topic) Descriptor() Descriptor {
	props := map[string]any{}
	if t.DisplayName != "" {
		props["DisplayName"] = t.DisplayName
	}
	return Descriptor{Type: "AWS::SNS::Topic", Properties: props, DependsOn: t.deps()}
}

// Subscription delivers topic messages to one email address. Delivery starts
// once the recipient confirms; confirmation is not tracked here.
type Subscription struct {
	base
	topicID  string
	Endpoint string
}

func (s *Subscription) Validate() error {
	if s.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

func (s *Subscription) Descriptor() Descriptor {
	return Descriptor{
		Type: "AWS::SNS::Subscription",
		Properties: map[string]any{
			"Protocol": "email",
			"Endpoint": s.Endpoint,
			"TopicArn": Ref(s.topicID),
		},
	}
}

// TopicPolicy denies publishes that do not use TLS.
type TopicPolicy struct {
	base
	topicID string
}

func (p *TopicPolicy) Validate() error { return nil }

func (p *TopicPolicy) Descriptor() Descriptor {
	return Descriptor{
		Type: "AWS::SNS::TopicPolicy",
		Properties: map[string]any{
			"Topics": []any{Ref(p.topicID)},
			"PolicyDocument": map[string]any{
				"Version": policyVersion,
				"Statement": []any{map[string]any{
					"Sid":       "AllowPublishThroughSSLOnly",
					"Effect":    "Deny",
					"Principal": "*",
					"Action":    "sns:Publish",
					"Resource":  Ref(p.topicID),
					"Condition": map[string]any{"Bool": map[string]any{"aws:SecureTransport": "false"}},
				}},
			},
		},
	}
}

// Channel is a notification topic plus its email subscribers. Subscriptions
// are additive: there is no way to remove one.
type Channel struct {
	app   *App
	topic *Topic
	seen  map[string]struct{}
	subs  []*Subscription
}

func NewChannel(app *App, id, displayName string) (*Channel, error) {
	topic := &Topic{base: base{id: id}, DisplayName: strings.TrimSpace(displayName)}
	if err := app.Add(topic); err != nil {
		return nil, err
	}
	return &Channel{app: app, topic: topic, seen: map[string]struct{}{}}, nil
}

func (c *Channel) ID() string    { return c.topic.ID() }
func (c *Channel) Topic() *Topic { return c.topic }

// TopicARN is the reference other resources use to address the topic.
func (c *Channel) TopicARN() map[string]any { return Ref(c.topic.ID()) }

// Subscribers returns the subscribed addresses in subscription order.
func (c *Channel) Subscribers() []string {
	out := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s.Endpoint)
	}
	return out
}

// Subscribe adds an email subscription. The address is trimmed; an address
// already subscribed is a no-op. Domains compare case-insensitively, local
// parts exactly.
func (c *Channel) Subscribe(address string) error {
	address = strings.TrimSpace(address)
	parsed, err := parseEmail(address)
	if err != nil {
		return &domain.SubscriptionError{Channel: c.ID(), Address: address, Err: err}
	}
	key := dedupKey(parsed)
	if _, ok := c.seen[key]; ok {
		return nil
	}
	sub := &Subscription{
		base:     base{id: fmt.Sprintf("%sSubscription%d", c.ID(), len(c.subs)+1)},
		topicID:  c.ID(),
		Endpoint: parsed,
	}
	if err := c.app.Add(sub); err != nil {
		return &domain.SubscriptionError{Channel: c.ID(), Address: address, Err: err}
	}
	c.seen[key] = struct{}{}
	c.subs = append(c.subs, sub)
	return nil
}

// RequireSSL attaches a topic policy rejecting publishes over plain HTTP.
func (c *Channel) RequireSSL() (*TopicPolicy, error) {
	policy := &TopicPolicy{base: base{id: c.ID() + "Policy"}, topicID: c.ID()}
	if err := c.app.Add(policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// ProvisionChannel creates a channel and subscribes every address in the
// comma-separated raw list. A malformed address is reported as a
// *domain.SubscriptionError and skipped; the others are still subscribed. If
// no address survives, a *config.ConfigurationError is among the errors.
func ProvisionChannel(app *App, id, displayName, raw string) (*Channel, []error) {
	ch, err := NewChannel(app, id, displayName)
	if err != nil {
		return nil, []error{err}
	}
	var errs []error
	for _, address := range env.SplitList(raw, ",") {
		if err := ch.Subscribe(address); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ch.subs) == 0 {
		errs = append(errs, &config.ConfigurationError{
			Issues: []string{fmt.Sprintf("SNS_SUBSCRIBERS: channel %s has no valid subscriber", id)},
		})
	}
	return ch, errs
}

// parseEmail accepts a bare RFC 5322 addr-spec; display names and angle
// brackets are rejected.
func dedupKey(address string) string {
	at := strings.LastIndex(address, "@")
	return address[:at] + strings.ToLower(address[at:])
}

func parseEmail(address string) (string, error) {
	if address == "" {
		return "", errors.New("address is empty")
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("invalid email address: %w", err)
	}
	if parsed.Name != "" || parsed.Address != address {
		return "", errors.New("expected a bare email address")
	}
	at := strings.LastIndex(parsed.Address, "@")
	if !strings.Contains(parsed.Address[at+1:], ".") {
		return "", errors.New("email domain must be fully qualified")
	}
	return parsed.Address, nil
}
