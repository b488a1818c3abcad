package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/jobscraper/internal/assets"
	"github.com/animus-labs/jobscraper/internal/bundle"
	"github.com/animus-labs/jobscraper/internal/config"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/ledger"
	"github.com/animus-labs/jobscraper/internal/runtimeexec"
	"github.com/animus-labs/jobscraper/internal/schedule"
	"github.com/animus-labs/jobscraper/internal/stack"
)

// pipRunner writes a fixed site-packages tree into the output mount.
type pipRunner struct {
	runs int
	err  error
}

func (r *pipRunner) Kind() string { return "fake" }

func (r *pipRunner) Run(ctx context.Context, spec runtimeexec.ContainerSpec) (runtimeexec.Result, error) {
	r.runs++
	if r.err != nil {
		return runtimeexec.Result{ExitCode: 1}, r.err
	}
	for _, m := range spec.Mounts {
		if m.Target != "/asset-output" {
			continue
		}
		dir := filepath.Join(m.Source, "python", "requests")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return runtimeexec.Result{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, "__init__.py"), []byte("# requests\n"), 0o644); err != nil {
			return runtimeexec.Result{}, err
		}
	}
	return runtimeexec.Result{}, nil
}

type harness struct {
	deployer *Deployer
	runner   *pipRunner
	ledger   *ledger.MemoryStore
	cfg      config.Config
}

func newHarness(t *testing.T, disableLayers bool) *harness {
	t.Helper()
	root := t.TempDir()
	layerDir := filepath.Join(root, "lambda_layer", "python")
	codeDir := filepath.Join(root, "lambda")
	for _, dir := range []string{layerDir, codeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(layerDir, "requirements.txt"), []byte("requests==2.32.3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(codeDir, "scraper.py"), []byte("def lambda_handler(event, context):\n    return {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.Config{
		StackName:         config.DefaultStackName,
		MainSearchTerm:    "OpenAI",
		OpenAIAPIKey:      "sk-test",
		Subscribers:       "a@x.com, b@y.com",
		SearchTerms:       config.DefaultSearchTerms,
		Schedule:          schedule.MustParseDaily(schedule.DefaultExpression),
		DisableLayers:     disableLayers,
		LayerPlatform:     config.DefaultLayerPlatform,
		LayerSourceDir:    layerDir,
		FunctionSourceDir: codeDir,
		OutputDir:         filepath.Join(root, "stack.out"),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	staging, err := assets.NewStagingPublisher(cfg.StagingDir())
	if err != nil {
		t.Fatalf("NewStagingPublisher() err=%v", err)
	}
	h := &harness{runner: &pipRunner{}, ledger: ledger.NewMemoryStore(), cfg: cfg}
	builder, err := bundle.NewBuilder(logger, h.runner, staging, h.ledger, bundle.Options{WorkDir: t.TempDir(), DeploymentID: "dep-1"})
	if err != nil {
		t.Fatalf("NewBuilder() err=%v", err)
	}
	h.deployer, err = NewDeployer(logger, cfg, builder, h.ledger, "dep-1")
	if err != nil {
		t.Fatalf("NewDeployer() err=%v", err)
	}
	return h
}

func readTemplate(t *testing.T, h *harness) stack.Template {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, h.cfg.StackName+".template.json"))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	var tmpl stack.Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	return tmpl
}

func TestSynthWritesOutputs(t *testing.T) {
	h := newHarness(t, false)
	if err := h.deployer.Synth(context.Background(), formatJSON); err != nil {
		t.Fatalf("Synth() err=%v", err)
	}

	tmpl := readTemplate(t, h)
	fn, ok := tmpl.Resources[stack.FunctionID]
	if !ok {
		t.Fatalf("function missing from template")
	}
	layers, _ := fn.Properties["Layers"].([]any)
	if len(layers) != 1 {
		t.Fatalf("expected one layer on the function, got %v", fn.Properties["Layers"])
	}

	raw, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, h.cfg.StackName+".assets.json"))
	if err != nil {
		t.Fatalf("read asset manifest: %v", err)
	}
	var manifest stack.AssetManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode asset manifest: %v", err)
	}
	if len(manifest.Assets) != 2 {
		t.Fatalf("expected layer and code assets, got %+v", manifest.Assets)
	}
	for _, a := range manifest.Assets {
		if _, err := os.Stat(filepath.Join(h.cfg.StagingDir(), filepath.FromSlash(a.ObjectKey))); err != nil {
			t.Fatalf("staged asset %s missing: %v", a.ObjectKey, err)
		}
	}

	events := h.ledger.Events()
	if last := events[len(events)-1]; last.Action != ledger.ActionStackSynth {
		t.Fatalf("last event=%q, want %q", last.Action, ledger.ActionStackSynth)
	}
}

func TestSynthYAML(t *testing.T) {
	h := newHarness(t, false)
	if err := h.deployer.Synth(context.Background(), formatYAML); err != nil {
		t.Fatalf("Synth() err=%v", err)
	}
	raw, err := os.ReadFile(filepath.Join(h.cfg.OutputDir, h.cfg.StackName+".template.yaml"))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !bytes.Contains(raw, []byte("AWS::Lambda::Function")) {
		t.Fatalf("unexpected yaml template")
	}
}

func TestSynthWithLayersDisabled(t *testing.T) {
	h := newHarness(t, true)
	if err := h.deployer.Synth(context.Background(), formatJSON); err != nil {
		t.Fatalf("Synth() err=%v", err)
	}
	if h.runner.runs != 0 {
		t.Fatalf("no container should run with layers disabled")
	}
	tmpl := readTemplate(t, h)
	for id, r := range tmpl.Resources {
		if r.Type == "AWS::Lambda::LayerVersion" {
			t.Fatalf("unexpected layer %s", id)
		}
	}
}

func TestSynthBuildFailureWritesNothing(t *testing.T) {
	h := newHarness(t, false)
	h.runner.err = &runtimeexec.ExitError{Name: "c", ExitCode: 1, Output: "ERROR: No matching distribution found for requests==2.32.3"}

	err := h.deployer.Synth(context.Background(), formatJSON)
	if !errors.Is(err, domain.ErrBuild) {
		t.Fatalf("expected build error, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("exit code=%d, want 1", exitCode(err))
	}
	if _, err := os.Stat(filepath.Join(h.cfg.OutputDir, h.cfg.StackName+".template.json")); !os.IsNotExist(err) {
		t.Fatalf("template must not be written after a failed build")
	}
}

func TestPlanUsesPublishedLayer(t *testing.T) {
	h := newHarness(t, false)

	var before bytes.Buffer
	if err := h.deployer.Plan(context.Background(), &before); err != nil {
		t.Fatalf("Plan() err=%v", err)
	}
	if strings.Contains(before.String(), `"PythonLambdaLayer"`) {
		t.Fatalf("unpublished layer must not be planned:\n%s", before.String())
	}

	if _, err := h.deployer.BuildLayers(context.Background()); err != nil {
		t.Fatalf("BuildLayers() err=%v", err)
	}
	runs := h.runner.runs

	var after bytes.Buffer
	if err := h.deployer.Plan(context.Background(), &after); err != nil {
		t.Fatalf("Plan() err=%v", err)
	}
	var out planOutput
	if err := json.Unmarshal(after.Bytes(), &out); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	found := false
	for _, id := range out.Order {
		if id == "PythonLambdaLayer" {
			found = true
		}
	}
	if !found {
		t.Fatalf("published layer missing from plan %v", out.Order)
	}
	if h.runner.runs != runs {
		t.Fatalf("plan must not build")
	}
	if _, err := os.Stat(filepath.Join(h.cfg.OutputDir, h.cfg.StackName+".template.json")); !os.IsNotExist(err) {
		t.Fatalf("plan must not write the template")
	}
}

func TestRunUsage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var stderr bytes.Buffer
	if code := run(context.Background(), logger, nil, io.Discard, &stderr); code != 2 {
		t.Fatalf("exit code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage: deployer") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}

func TestRunConfigurationErrorExitCode(t *testing.T) {
	for _, key := range []string{"JOBSCRAPER_CONFIG", "MAIN_SEARCH_TERM", "MAIN_SEARCHTERM", "OPENAI_API_KEY", "SNS_SUBSCRIBERS", "ASSET_BUCKET", "LEDGER_DATABASE_URL"} {
		t.Setenv(key, "")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if code := run(context.Background(), logger, []string{"synth"}, io.Discard, io.Discard); code != 2 {
		t.Fatalf("exit code=%d, want 2", code)
	}
}

var deployEnv = []string{
	"JOBSCRAPER_CONFIG", "STACK_NAME", "MAIN_SEARCH_TERM", "MAIN_SEARCHTERM", "OPENAI_API_KEY",
	"SNS_SUBSCRIBERS", "DISABLE_LAMBDA_LAYERS", "SEARCH_TERMS", "SCHEDULE_CRON",
	"LAYER_PLATFORM", "LAYER_SOURCE_DIR", "FUNCTION_SOURCE_DIR", "OUTPUT_DIR", "DOCKER_BIN",
	"ASSET_BUCKET", "LEDGER_DATABASE_URL", "REQUIRE_SSL_PUBLISH", "NAG_RULES_FILE",
	"SNS_TOPIC_ARN", "LOCAL_ENV",
}

func clearDeployEnv(t *testing.T) {
	t.Helper()
	for _, key := range deployEnv {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setDeployEnv configures a deployment that builds no layer, on a host
// without docker.
func setDeployEnv(t *testing.T) string {
	t.Helper()
	clearDeployEnv(t)
	root := t.TempDir()
	codeDir := filepath.Join(root, "lambda")
	if err := os.MkdirAll(codeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(codeDir, "scraper.py"), []byte("def lambda_handler(event, context):\n    return {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("MAIN_SEARCH_TERM", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SNS_SUBSCRIBERS", "a@x.com")
	t.Setenv("FUNCTION_SOURCE_DIR", codeDir)
	t.Setenv("OUTPUT_DIR", filepath.Join(root, "stack.out"))
	t.Setenv("DOCKER_BIN", "/nonexistent/docker")
	return root
}

func TestRunWithoutDockerWhenNothingIsBuilt(t *testing.T) {
	root := setDeployEnv(t)
	t.Setenv("DISABLE_LAMBDA_LAYERS", "1")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if code := run(context.Background(), logger, []string{"synth"}, io.Discard, io.Discard); code != 0 {
		t.Fatalf("synth exit code=%d, want 0", code)
	}
	if _, err := os.Stat(filepath.Join(root, "stack.out", config.DefaultStackName+".template.json")); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	var stdout bytes.Buffer
	if code := run(context.Background(), logger, []string{"plan"}, &stdout, io.Discard); code != 0 {
		t.Fatalf("plan exit code=%d, want 0", code)
	}
	var plan planOutput
	if err := json.Unmarshal(stdout.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.Stack != config.DefaultStackName || len(plan.Order) == 0 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestRunLayerBuildNeedsDocker(t *testing.T) {
	root := setDeployEnv(t)
	layerDir := filepath.Join(root, "lambda_layer", "python")
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(layerDir, "requirements.txt"), []byte("requests==2.32.3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LAYER_SOURCE_DIR", layerDir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if code := run(context.Background(), logger, []string{"build-layer"}, io.Discard, io.Discard); code != 1 {
		t.Fatalf("build-layer exit code=%d, want 1", code)
	}
}

func TestRunRulesFile(t *testing.T) {
	root := setDeployEnv(t)
	t.Setenv("DISABLE_LAMBDA_LAYERS", "1")
	rules := filepath.Join(root, "rules.yaml")
	body := `schema: jobscraper.nag.v1
rules:
  - id: Custom-FN1
    level: error
    types: [AWS::Lambda::Function]
    when:
      all:
        - field: Properties.Timeout
          op: gt
          value: "10"
`
	if err := os.WriteFile(rules, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("NAG_RULES_FILE", rules)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if code := run(context.Background(), logger, []string{"synth"}, io.Discard, io.Discard); code != 1 {
		t.Fatalf("synth exit code=%d, want 1 for the custom finding", code)
	}

	t.Setenv("NAG_RULES_FILE", filepath.Join(root, "missing.yaml"))
	if code := run(context.Background(), logger, []string{"synth"}, io.Discard, io.Discard); code != 2 {
		t.Fatalf("synth exit code=%d, want 2 for an unreadable rules file", code)
	}
}

func TestRunNotifySendsDigest(t *testing.T) {
	clearDeployEnv(t)
	t.Setenv("SNS_TOPIC_ARN", "arn:aws:sns:eu-central-1:123456789012:JobScraperAlerts")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MAIN_SEARCH_TERM", "OpenAI")
	t.Setenv("SEARCH_TERMS", "Germany,Munich")

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	args := []string{"notify", "-update", "LinkedIn Jobs=https://www.linkedin.com/company/openai/jobs/"}
	if code := run(context.Background(), logger, args, io.Discard, io.Discard); code != 0 {
		t.Fatalf("notify exit code=%d, want 0; logs: %s", code, logs.String())
	}
	out := logs.String()
	for _, want := range []string{
		`"msg":"publish"`,
		`"topic_arn":"arn:aws:sns:eu-central-1:123456789012:JobScraperAlerts"`,
		"OpenAI Careers update found for OpenAI, Germany, Munich location(s)!",
		"https://www.linkedin.com/company/openai/jobs/",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("logs missing %q: %s", want, out)
		}
	}
}

func TestRunNotifyRequiresFunctionEnvironment(t *testing.T) {
	clearDeployEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if code := run(context.Background(), logger, []string{"notify"}, io.Discard, io.Discard); code != 2 {
		t.Fatalf("notify exit code=%d, want 2", code)
	}
	var stderr bytes.Buffer
	if code := run(context.Background(), logger, []string{"notify", "-update", "no-url"}, io.Discard, &stderr); code != 2 {
		t.Fatalf("notify exit code=%d, want 2 for a malformed update", code)
	}
}
