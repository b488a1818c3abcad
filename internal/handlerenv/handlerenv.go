// Package handlerenv is the runtime side of the scraper function's contract:
// the environment it is deployed with and the notification it publishes.
package handlerenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/platform/env"
)

const (
	EnvTopicARN       = "SNS_TOPIC_ARN"
	EnvSearchTerms    = "SEARCH_TERMS"
	EnvMainSearchTerm = "MAIN_SEARCH_TERM"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
	// EnvLocal, when set, turns publishing into a logged no-op.
	EnvLocal = "LOCAL_ENV"

	defaultSearchTerms = "Germany, Munich"
	// SNS rejects subjects of 100 characters or more.
	maxSubjectLength = 99
)

// RuntimeError is a failure within one invocation. The next scheduled run
// starts fresh.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() []error {
	return []error{domain.ErrRuntime, e.Err}
}

type Env struct {
	TopicARN       string
	SearchTerms    []string
	MainSearchTerm string
	OpenAIAPIKey   string
	Local          bool
}

// Load reads the function environment. SEARCH_TERMS falls back to the
// deployment default; the topic ARN may be absent only in a local run.
func Load() (Env, error) {
	e := Env{
		TopicARN:       strings.TrimSpace(env.String(EnvTopicARN, "")),
		SearchTerms:    SplitSearchTerms(env.String(EnvSearchTerms, defaultSearchTerms)),
		MainSearchTerm: strings.TrimSpace(env.String(EnvMainSearchTerm, "")),
		OpenAIAPIKey:   strings.TrimSpace(env.String(EnvOpenAIAPIKey, "")),
		Local:          env.Set(EnvLocal),
	}
	issues := &domain.ValidationError{Subject: "function environment"}
	if e.OpenAIAPIKey == "" {
		issues.Addf("%s is required", EnvOpenAIAPIKey)
	}
	if e.TopicARN == "" && !e.Local {
		issues.Addf("%s is required", EnvTopicARN)
	}
	if err := issues.OrNil(); err != nil {
		return Env{}, &RuntimeError{Op: "load environment", Err: err}
	}
	return e, nil
}

// SplitSearchTerms is the inverse of the deploy-time serialization: split on
// commas, trim, drop empty terms.
func SplitSearchTerms(raw string) []string {
	return env.SplitList(raw, ",")
}

// Terms returns the main term followed by the search terms, as shown in
// notifications.
func (e Env) Terms() []string {
	out := make([]string, 0, len(e.SearchTerms)+1)
	if e.MainSearchTerm != "" {
		out = append(out, e.MainSearchTerm)
	}
	return append(out, e.SearchTerms...)
}

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topicARN, subject, message string) error
}

type Notifier struct {
	logger    *slog.Logger
	publisher Publisher
	env       Env
}

func NewNotifier(logger *slog.Logger, publisher Publisher, e Env) (*Notifier, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if publisher == nil && !e.Local {
		return nil, errors.New("publisher is required")
	}
	return &Notifier{logger: logger, publisher: publisher, env: e}, nil
}

// Notify publishes subject and message to the configured topic, or only logs
// them when running locally.
func (n *Notifier) Notify(ctx context.Context, subject, message string) error {
	subject = cleanSubject(subject)
	if n.env.Local {
		n.logger.Info("local run, notification not published", "subject", subject, "message_bytes", len(message))
		return nil
	}
	if strings.TrimSpace(message) == "" {
		return &RuntimeError{Op: "publish", Err: errors.New("message is empty")}
	}
	if err := n.publisher.Publish(ctx, n.env.TopicARN, subject, message); err != nil {
		return &RuntimeError{Op: "publish", Err: err}
	}
	n.logger.Info("notification published", "topic_arn", n.env.TopicARN, "subject", subject)
	return nil
}

// cleanSubject folds line breaks and trims to the SNS subject limit.
func cleanSubject(subject string) string {
	subject = strings.Join(strings.Fields(subject), " ")
	if r := []rune(subject); len(r) > maxSubjectLength {
		subject = string(r[:maxSubjectLength])
	}
	return subject
}

// LogPublisher writes notifications to a logger. It stands in for the topic
// client when exercising the function outside the cloud.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, topicARN, subject, message string) error {
	p.Logger.InfoContext(ctx, "publish", "topic_arn", topicARN, "subject", subject, "message", message)
	return nil
}
