package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/animus-labs/jobscraper/internal/bundle"
	"github.com/animus-labs/jobscraper/internal/config"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/ledger"
	"github.com/animus-labs/jobscraper/internal/nag"
	"github.com/animus-labs/jobscraper/internal/stack"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// Deployer runs one deployment: layer build, function packaging, stack
// synthesis and output files.
type Deployer struct {
	logger       *slog.Logger
	cfg          config.Config
	builder      *bundle.Builder
	ledger       ledger.Store
	deploymentID string
}

func NewDeployer(logger *slog.Logger, cfg config.Config, builder *bundle.Builder, store ledger.Store, deploymentID string) (*Deployer, error) {
	if logger == nil || builder == nil || store == nil {
		return nil, errors.New("logger, builder and ledger are required")
	}
	return &Deployer{logger: logger, cfg: cfg, builder: builder, ledger: store, deploymentID: deploymentID}, nil
}

// BuildLayers builds every configured layer. Layers disabled by
// DISABLE_LAMBDA_LAYERS yield none.
func (d *Deployer) BuildLayers(ctx context.Context) ([]stack.BuiltLayer, error) {
	if d.cfg.DisableLayers {
		d.logger.Info("lambda layers disabled")
		return nil, nil
	}
	specs := []domain.BundleSpec{d.cfg.LayerSpec()}
	artifacts, err := d.builder.BuildAll(ctx, specs)
	if err != nil {
		return nil, err
	}
	out := make([]stack.BuiltLayer, 0, len(specs))
	for i, spec := range specs {
		out = append(out, stack.BuiltLayer{Spec: spec, Artifact: artifacts[i]})
	}
	return out, nil
}

// currentLayers returns the last published version of every configured
// layer without building. Layers never published are skipped with a warning.
func (d *Deployer) currentLayers(ctx context.Context) ([]stack.BuiltLayer, error) {
	if d.cfg.DisableLayers {
		return nil, nil
	}
	spec := d.cfg.LayerSpec()
	current, err := d.ledger.CurrentLayerVersion(ctx, spec.Name)
	if errors.Is(err, ledger.ErrNotFound) {
		d.logger.Warn("layer never published, planning without it", "layer", spec.Name)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []stack.BuiltLayer{{Spec: spec, Artifact: current.Artifact}}, nil
}

func (d *Deployer) compose(ctx context.Context, layers []stack.BuiltLayer) (*stack.Template, error) {
	code, err := d.builder.PackageCode(ctx, stack.FunctionCode, d.cfg.FunctionSourceDir)
	if err != nil {
		return nil, err
	}
	opts := []stack.Option{stack.WithDescription("Scheduled job scraper with email alerts")}
	if d.cfg.RulesFile != "" {
		rs, err := nag.LoadRuleSet(d.cfg.RulesFile)
		if err != nil {
			return nil, &config.ConfigurationError{Issues: []string{"NAG_RULES_FILE: " + err.Error()}}
		}
		opts = append(opts, stack.WithRules(rs))
	}
	app, err := stack.NewApp(d.cfg.StackName, opts...)
	if err != nil {
		return nil, &config.ConfigurationError{Issues: []string{"STACK_NAME: " + err.Error()}}
	}
	s, err := stack.NewJobScraperStack(app, stack.PropsFromConfig(d.cfg, code, layers))
	if err != nil {
		return nil, err
	}
	for _, skipped := range s.Skipped {
		d.logger.Warn("subscriber skipped", "error", skipped)
	}
	d.logger.Info("function environment", "function", s.Function.ID(), "keys", s.Function.EnvironmentKeys())
	tmpl, err := app.Synth()
	if err != nil {
		return nil, err
	}
	for _, f := range tmpl.Checks.Warnings() {
		d.logger.Warn("security check warning", "rule", f.RuleID, "resource", f.ResourceID, "description", f.Description)
	}
	return tmpl, nil
}

// Synth builds everything and writes the template and asset manifest. No
// file is written unless synthesis succeeds.
func (d *Deployer) Synth(ctx context.Context, format string) error {
	layers, err := d.BuildLayers(ctx)
	if err != nil {
		return err
	}
	tmpl, err := d.compose(ctx, layers)
	if err != nil {
		return err
	}
	paths, err := writeOutputs(d.cfg.OutputDir, d.cfg.StackName, tmpl, format)
	if err != nil {
		return err
	}
	d.logger.Info("stack synthesized",
		"stack", d.cfg.StackName,
		"resources", len(tmpl.Order),
		"assets", len(tmpl.Assets),
		"template", paths[0],
	)
	_, err = d.ledger.RecordEvent(ctx, ledger.Event{
		DeploymentID: d.deploymentID,
		Action:       ledger.ActionStackSynth,
		ResourceType: "stack",
		ResourceID:   d.cfg.StackName,
		Payload: map[string]any{
			"resources": tmpl.Order,
			"template":  paths[0],
			"assets":    paths[1],
		},
	})
	if err != nil {
		d.logger.Warn("ledger event not recorded", "action", ledger.ActionStackSynth, "error", err)
	}
	return nil
}

type planOutput struct {
	Stack    string                `json:"stack"`
	Order    []string              `json:"order"`
	Assets   []stack.ManifestAsset `json:"assets"`
	Findings json.RawMessage       `json:"findings"`
}

// Plan synthesizes against the last published layer and prints resource
// order, assets and security findings. Nothing is built or written.
func (d *Deployer) Plan(ctx context.Context, w io.Writer) error {
	layers, err := d.currentLayers(ctx)
	if err != nil {
		return err
	}
	tmpl, err := d.compose(ctx, layers)
	if err != nil {
		return err
	}
	findings, err := json.Marshal(tmpl.Checks.Findings)
	if err != nil {
		return err
	}
	out := planOutput{
		Stack:    d.cfg.StackName,
		Order:    tmpl.Order,
		Assets:   tmpl.AssetManifest().Assets,
		Findings: findings,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// writeOutputs writes <stack>.template.<format> and <stack>.assets.json and
// returns their paths in that order. Files are replaced atomically.
func writeOutputs(dir, stackName string, tmpl *stack.Template, format string) ([]string, error) {
	var body []byte
	var err error
	switch format {
	case formatYAML:
		body, err = tmpl.YAML()
	default:
		format = formatJSON
		body, err = tmpl.JSON()
	}
	if err != nil {
		return nil, err
	}
	manifest, err := json.MarshalIndent(tmpl.AssetManifest(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode asset manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	templatePath := filepath.Join(dir, stackName+".template."+format)
	assetsPath := filepath.Join(dir, stackName+".assets.json")
	if err := writeFileAtomic(templatePath, body); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(assetsPath, append(manifest, '\n')); err != nil {
		return nil, err
	}
	return []string{templatePath, assetsPath}, nil
}

func writeFileAtomic(path string, body []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
