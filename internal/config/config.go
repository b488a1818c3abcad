// Package config assembles the deployment inputs from the environment and an
// optional YAML overlay into one typed value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/platform/env"
	"github.com/animus-labs/jobscraper/internal/platform/objectstore"
	"github.com/animus-labs/jobscraper/internal/platform/postgres"
	"github.com/animus-labs/jobscraper/internal/schedule"
)

const (
	DefaultStackName         = "JobScraperStack"
	DefaultLayerPlatform     = "manylinux2014_aarch64"
	DefaultLayerSourceDir    = "lambda_layer/python"
	DefaultFunctionSourceDir = "lambda"
	DefaultOutputDir         = "stack.out"
	DefaultDockerBin         = "docker"

	LayerName        = "PythonLambdaLayer"
	LayerDescription = "Python lambda layer for Web Scrapping"
)

var DefaultSearchTerms = []string{"Germany", "Munich"}

type Config struct {
	StackName      string
	MainSearchTerm string
	OpenAIAPIKey   string
	// Subscribers is the raw SNS_SUBSCRIBERS value; the channel splits and
	// validates it so one bad address does not drop the rest.
	Subscribers string
	SearchTerms []string
	Schedule    schedule.Daily

	// RequireSSL attaches a topic policy denying publishes without TLS.
	RequireSSL bool
	// RulesFile replaces the built-in security rule pack when set.
	RulesFile string

	DisableLayers     bool
	LayerPlatform     string
	LayerSourceDir    string
	FunctionSourceDir string
	OutputDir         string
	DockerBin         string

	Assets objectstore.Config
	Ledger postgres.Config
}

// FromEnv reads the deployment configuration. All problems are reported
// together in a *ConfigurationError.
func FromEnv() (Config, error) {
	issues := &ConfigurationError{}

	var overlay Overlay
	if path := strings.TrimSpace(env.String("JOBSCRAPER_CONFIG", "")); path != "" {
		o, err := LoadOverlay(path)
		if err != nil {
			issues.add("JOBSCRAPER_CONFIG: %v", err)
		}
		overlay = o
	}

	cfg := Config{
		StackName:         firstNonEmpty(env.String("STACK_NAME", ""), overlay.StackName, DefaultStackName),
		OpenAIAPIKey:      strings.TrimSpace(env.String("OPENAI_API_KEY", "")),
		Subscribers:       env.String("SNS_SUBSCRIBERS", ""),
		RequireSSL:        env.Set("REQUIRE_SSL_PUBLISH") || overlay.RequireSSL,
		RulesFile:         firstNonEmpty(env.String("NAG_RULES_FILE", ""), overlay.RulesFile),
		DisableLayers:     env.Set("DISABLE_LAMBDA_LAYERS"),
		LayerPlatform:     firstNonEmpty(env.String("LAYER_PLATFORM", ""), overlay.Layer.Platform, DefaultLayerPlatform),
		LayerSourceDir:    firstNonEmpty(env.String("LAYER_SOURCE_DIR", ""), overlay.Layer.SourceDir, DefaultLayerSourceDir),
		FunctionSourceDir: firstNonEmpty(env.String("FUNCTION_SOURCE_DIR", ""), overlay.FunctionSourceDir, DefaultFunctionSourceDir),
		OutputDir:         firstNonEmpty(env.String("OUTPUT_DIR", ""), overlay.OutputDir, DefaultOutputDir),
		DockerBin:         firstNonEmpty(env.String("DOCKER_BIN", ""), DefaultDockerBin),
	}
	if v, ok := env.Lookup("MAIN_SEARCH_TERM", "MAIN_SEARCHTERM"); ok {
		cfg.MainSearchTerm = strings.TrimSpace(v)
	}

	cfg.SearchTerms = DefaultSearchTerms
	if len(overlay.SearchTerms) > 0 {
		cfg.SearchTerms = trimAll(overlay.SearchTerms)
	}
	cfg.SearchTerms = env.List("SEARCH_TERMS", ",", cfg.SearchTerms)

	expr := firstNonEmpty(env.String("SCHEDULE_CRON", ""), overlay.Schedule, schedule.DefaultExpression)
	daily, err := schedule.ParseDaily(expr)
	if err != nil {
		issues.add("SCHEDULE_CRON: %v", err)
	}
	cfg.Schedule = daily

	if cfg.Assets, err = objectstore.ConfigFromEnv(); err != nil {
		issues.add("asset store: %v", err)
	}
	if cfg.Ledger, err = postgres.ConfigFromEnv(); err != nil {
		issues.add("ledger database: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			issues.Issues = append(issues.Issues, cerr.Issues...)
		}
	}
	if err := issues.orNil(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values the stack depends on. Subscriber addresses are
// checked by the notification channel itself.
func (c Config) Validate() error {
	issues := &ConfigurationError{}
	if strings.TrimSpace(c.StackName) == "" {
		issues.add("STACK_NAME must not be blank")
	}
	if c.MainSearchTerm == "" {
		issues.add("MAIN_SEARCH_TERM is required")
	}
	if c.OpenAIAPIKey == "" {
		issues.add("OPENAI_API_KEY is required")
	}
	if len(env.SplitList(c.Subscribers, ",")) == 0 {
		issues.add("SNS_SUBSCRIBERS is required")
	}
	if len(c.SearchTerms) == 0 {
		issues.add("SEARCH_TERMS must name at least one term")
	}
	for _, term := range c.SearchTerms {
		switch {
		case strings.TrimSpace(term) == "" || strings.Contains(term, ","):
			issues.add("search term %q must be non-empty and must not contain a comma", term)
		case term != strings.TrimSpace(term):
			issues.add("search term %q must not have leading or trailing spaces", term)
		}
	}
	if !c.DisableLayers {
		spec := c.LayerSpec()
		if err := spec.Validate(); err != nil {
			issues.add("layer: %v", err)
		}
		if _, err := domain.ArchitectureForPlatformTag(c.LayerPlatform); err != nil {
			issues.add("LAYER_PLATFORM: %v", err)
		}
	}
	if strings.TrimSpace(c.FunctionSourceDir) == "" {
		issues.add("FUNCTION_SOURCE_DIR must not be blank")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		issues.add("OUTPUT_DIR must not be blank")
	}
	return issues.orNil()
}

// LayerSpec is the dependency layer attached to the scraper function.
func (c Config) LayerSpec() domain.BundleSpec {
	return domain.BundleSpec{
		Name:              LayerName,
		TargetPlatformTag: c.LayerPlatform,
		SourceFolder:      c.LayerSourceDir,
		Description:       LayerDescription,
	}.WithDefaults()
}

// StagingDir is where assets go when no asset bucket is configured.
func (c Config) StagingDir() string {
	return filepath.Join(c.OutputDir, "assets")
}

// LogValue keeps the API key out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("stack_name", c.StackName),
		slog.String("main_search_term", c.MainSearchTerm),
		slog.String("openai_api_key", redact(c.OpenAIAPIKey)),
		slog.Int("subscribers", len(env.SplitList(c.Subscribers, ","))),
		slog.Any("search_terms", c.SearchTerms),
		slog.String("schedule", c.Schedule.Expression()),
		slog.Bool("disable_layers", c.DisableLayers),
		slog.Bool("require_ssl", c.RequireSSL),
		slog.String("rules_file", c.RulesFile),
		slog.String("layer_platform", c.LayerPlatform),
		slog.String("output_dir", c.OutputDir),
		slog.Bool("asset_bucket", c.Assets.Enabled()),
		slog.Bool("ledger_database", c.Ledger.Enabled()),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return fmt.Sprintf("[redacted %d chars]", len(secret))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
