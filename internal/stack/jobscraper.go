package stack

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/jobscraper/internal/config"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/nag"
	"github.com/animus-labs/jobscraper/internal/schedule"
)

// Logical ids of the job scraper resources.
const (
	TopicID       = "JobScraperAlerts"
	FunctionID    = "ScraperLambda"
	GrantID       = "ScraperLambdaPublishPolicy"
	ScheduleID    = "DailyScraperSchedule"
	TopicTitle    = "JobScraper Job Alerts"
	Handler       = "scraper.lambda_handler"
	FunctionCode  = "ScraperLambdaCode"
	TimeoutPerRun = 30 * time.Second
)

// Environment variables handed to the scraper function.
const (
	EnvTopicARN       = "SNS_TOPIC_ARN"
	EnvSearchTerms    = "SEARCH_TERMS"
	EnvMainSearchTerm = "MAIN_SEARCH_TERM"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
)

// BuiltLayer pairs a bundle spec with the artifact built from it.
type BuiltLayer struct {
	Spec     domain.BundleSpec
	Artifact domain.Artifact
}

type JobScraperProps struct {
	MainSearchTerm string
	OpenAIAPIKey   string
	SearchTerms    []string
	Subscribers    string
	Schedule       schedule.Daily
	Architecture   string
	Code           domain.Artifact
	// RequireSSL adds a TLS-only topic policy instead of suppressing the
	// topic encryption-in-transit check.
	RequireSSL bool
	// Layers is empty when layers are disabled.
	Layers []BuiltLayer
}

// PropsFromConfig maps deployment configuration onto the stack.
func PropsFromConfig(cfg config.Config, code domain.Artifact, layers []BuiltLayer) JobScraperProps {
	return JobScraperProps{
		MainSearchTerm: cfg.MainSearchTerm,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		SearchTerms:    cfg.SearchTerms,
		Subscribers:    cfg.Subscribers,
		Schedule:       cfg.Schedule,
		Architecture:   domain.ArchitectureARM64,
		Code:           code,
		RequireSSL:     cfg.RequireSSL,
		Layers:         layers,
	}
}

type JobScraperStack struct {
	Channel     *Channel
	TopicPolicy *TopicPolicy
	Function    *Function
	Grant       *Policy
	Rule        *ScheduleRule
	Layers      []*Layer
	// Skipped holds subscriber addresses that could not be subscribed.
	Skipped []error
}

// NewJobScraperStack wires the scraper: alerts topic with email subscribers,
// the function with its layers, publish permission and the daily trigger.
func NewJobScraperStack(app *App, props JobScraperProps) (*JobScraperStack, error) {
	s := &JobScraperStack{}
	var err error

	ch, errs := ProvisionChannel(app, TopicID, TopicTitle, props.Subscribers)
	for _, err := range errs {
		var serr *domain.SubscriptionError
		if errors.As(err, &serr) {
			s.Skipped = append(s.Skipped, err)
			continue
		}
		return nil, err
	}
	s.Channel = ch
	if props.RequireSSL {
		if s.TopicPolicy, err = ch.RequireSSL(); err != nil {
			return nil, err
		}
	} else {
		ch.Topic().AddSuppressions(nag.Suppression{
			ID:     "AwsSolutions-SNS3",
			Reason: "Suppress AwsSolutions-SNS3, called only from Lambda for now",
		})
	}

	for _, built := range props.Layers {
		layer, err := NewLayer(app, built.Spec, built.Artifact)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", built.Spec.Name, err)
		}
		s.Layers = append(s.Layers, layer)
	}

	arch := props.Architecture
	if arch == "" {
		arch = domain.ArchitectureARM64
	}
	fn, err := NewFunction(app, FunctionID, FunctionProps{
		Runtime:      domain.RuntimePython313,
		Architecture: arch,
		Handler:      Handler,
		Timeout:      TimeoutPerRun,
		Code:         props.Code,
		Environment: map[string]any{
			EnvTopicARN:       ch.TopicARN(),
			EnvSearchTerms:    SerializeSearchTerms(props.SearchTerms),
			EnvMainSearchTerm: props.MainSearchTerm,
			EnvOpenAIAPIKey:   props.OpenAIAPIKey,
		},
		Layers: s.Layers,
	})
	if err != nil {
		return nil, err
	}
	s.Function = fn
	fn.Role().AddSuppressions(nag.Suppression{
		ID:        "AwsSolutions-IAM4",
		Reason:    "Suppress AwsSolutions-IAM4 approved managed policies",
		AppliesTo: []string{"/(.*)(AWSLambdaBasicExecutionRole)(.*)$/g"},
	})

	if s.Grant, err = GrantPublish(app, GrantID, ch, fn); err != nil {
		return nil, err
	}
	if s.Rule, err = NewRule(app, ScheduleID, props.Schedule, fn); err != nil {
		return nil, err
	}

	for _, out := range []struct {
		id, desc string
		value    any
	}{
		{"TopicArn", "Alerts topic the scraper publishes to", ch.TopicARN()},
		{"FunctionName", "Scraper function", Ref(fn.ID())},
		{"Schedule", "Daily trigger, UTC", props.Schedule.AWSExpression()},
	} {
		if err := app.AddOutput(out.id, out.value, out.desc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SerializeSearchTerms joins terms with commas, the form the function splits
// again at runtime.
func SerializeSearchTerms(terms []string) string {
	return strings.Join(terms, ",")
}
