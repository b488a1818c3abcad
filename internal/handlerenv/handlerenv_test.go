package handlerenv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/stack"
	"github.com/google/go-cmp/cmp"
)

type recordingPublisher struct {
	calls []string
	err   error
}

func (p *recordingPublisher) Publish(ctx context.Context, topicARN, subject, message string) error {
	p.calls = append(p.calls, topicARN+"|"+subject+"|"+message)
	return p.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSearchTermsRoundTrip(t *testing.T) {
	for _, terms := range [][]string{
		{"Germany", "Munich"},
		{"Remote"},
		{"New York", "San Francisco", "Zürich"},
	} {
		got := SplitSearchTerms(stack.SerializeSearchTerms(terms))
		if diff := cmp.Diff(terms, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvTopicARN, "arn:aws:sns:eu-central-1:123456789012:alerts")
	t.Setenv(EnvSearchTerms, "Germany, Munich ,")
	t.Setenv(EnvMainSearchTerm, "OpenAI")
	t.Setenv(EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvLocal, "")

	e, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	want := Env{
		TopicARN:       "arn:aws:sns:eu-central-1:123456789012:alerts",
		SearchTerms:    []string{"Germany", "Munich"},
		MainSearchTerm: "OpenAI",
		OpenAIAPIKey:   "sk-test",
	}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Fatalf("env mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingKey(t *testing.T) {
	t.Setenv(EnvTopicARN, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvLocal, "")

	_, err := Load()
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || !errors.Is(err, domain.ErrRuntime) {
		t.Fatalf("expected RuntimeError, got %v", err)
	}
	for _, want := range []string{EnvOpenAIAPIKey, EnvTopicARN} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestNotifyPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	n, err := NewNotifier(testLogger(), pub, Env{TopicARN: "arn:topic"})
	if err != nil {
		t.Fatalf("NewNotifier() err=%v", err)
	}
	if err := n.Notify(context.Background(), "line one\nline two", "body"); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
	if diff := cmp.Diff([]string{"arn:topic|line one line two|body"}, pub.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifyLocalSkipsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	n, err := NewNotifier(testLogger(), pub, Env{Local: true})
	if err != nil {
		t.Fatalf("NewNotifier() err=%v", err)
	}
	if err := n.Notify(context.Background(), "subject", "body"); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("local run must not publish")
	}
}

func TestNotifyWrapsPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("throttled")}
	n, err := NewNotifier(testLogger(), pub, Env{TopicARN: "arn:topic"})
	if err != nil {
		t.Fatalf("NewNotifier() err=%v", err)
	}
	err = n.Notify(context.Background(), "subject", "body")
	if !errors.Is(err, domain.ErrRuntime) || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected wrapped runtime error, got %v", err)
	}
}

func TestCleanSubjectLimit(t *testing.T) {
	got := cleanSubject(strings.Repeat("ä", 150))
	if n := len([]rune(got)); n != maxSubjectLength {
		t.Fatalf("subject length=%d", n)
	}
}

func TestDigest(t *testing.T) {
	e := Env{MainSearchTerm: "OpenAI", SearchTerms: []string{"Germany", "Munich"}}

	subject, message := e.Digest(nil, "Stay curious.")
	if subject != "No updates on OpenAI Careers for location(s): OpenAI, Germany, Munich!" {
		t.Fatalf("subject=%q", subject)
	}
	if !strings.HasSuffix(message, "Stay curious.") {
		t.Fatalf("message=%q", message)
	}

	subject, message = e.Digest([]Update{
		{Site: "LinkedIn Jobs", URL: "https://www.linkedin.com/company/openai/jobs/"},
		{Site: "PR Newswire", URL: "https://www.prnewswire.com/news-releases/"},
	}, "")
	if !strings.HasPrefix(subject, "OpenAI Careers update found") {
		t.Fatalf("subject=%q", subject)
	}
	if got := strings.Count(message, "\n\n"); got != 1 {
		t.Fatalf("expected two paragraphs, got message %q", message)
	}
}

func TestLogPublisherWritesNotification(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	n, err := NewNotifier(logger, LogPublisher{Logger: logger}, Env{TopicARN: "arn:topic"})
	if err != nil {
		t.Fatalf("NewNotifier() err=%v", err)
	}
	if err := n.Notify(context.Background(), "OpenAI Careers update", "body"); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
	out := buf.String()
	for _, want := range []string{`"topic_arn":"arn:topic"`, `"subject":"OpenAI Careers update"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s: %s", want, out)
		}
	}
}
