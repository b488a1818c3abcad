// Package bundle builds Python dependency layers inside an ephemeral
// container and publishes them as content-addressed artifacts.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/jobscraper/internal/assets"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/ledger"
	"github.com/animus-labs/jobscraper/internal/runtimeexec"
	"github.com/google/uuid"
)

const (
	containerInputDir  = "/asset-input"
	containerOutputDir = "/asset-output"
)

// BundlingImage returns the build image matching a Lambda runtime.
func BundlingImage(runtime string) string {
	return "public.ecr.aws/sam/build-" + strings.TrimSpace(runtime)
}

// InstallScript is the shell pipeline run inside the bundling container. The
// venv and pip cache live in the container's /tmp, so nothing is shared with
// the host or with other builds, and --only-binary=:all: refuses sdists.
// Index options in the manifest reach pip through -r, never through the
// shell.
func InstallScript(platformTag string) string {
	return strings.Join([]string{
		"python -m venv /tmp/venv",
		"mkdir -p /tmp/pip-cache",
		"chmod -R 777 /tmp/pip-cache",
		"export PIP_CACHE_DIR=/tmp/pip-cache",
		`export PATH="/tmp/venv/bin:$PATH"`,
		fmt.Sprintf("pip install --platform %s --only-binary=:all: -r %s -t %s/%s",
			platformTag, domain.ManifestFile, containerOutputDir, domain.LayerPythonDir),
	}, " && ")
}

type Options struct {
	// WorkDir is where per-build temp directories are created. Defaults to os.TempDir().
	WorkDir string
	// User is passed to the container as uid:gid so outputs are owned by the caller.
	User         string
	DeploymentID string
}

type Builder struct {
	logger    *slog.Logger
	runner    runtimeexec.Runner
	publisher assets.Publisher
	ledger    ledger.Store
	opts      Options
	newName   func() string
}

func NewBuilder(logger *slog.Logger, runner runtimeexec.Runner, publisher assets.Publisher, store ledger.Store, opts Options) (*Builder, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if runner == nil {
		return nil, errors.New("container runner is required")
	}
	if publisher == nil {
		return nil, errors.New("asset publisher is required")
	}
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if strings.TrimSpace(opts.DeploymentID) == "" {
		opts.DeploymentID = uuid.NewString()
	}
	return &Builder{
		logger:    logger,
		runner:    runner,
		publisher: publisher,
		ledger:    store,
		opts:      opts,
		newName:   func() string { return "jobscraper-bundle-" + uuid.NewString() },
	}, nil
}

// Build produces the layer artifact for spec. On error nothing is published
// and the ledger still names the previously built version.
func (b *Builder) Build(ctx context.Context, spec domain.BundleSpec) (domain.Artifact, error) {
	spec = spec.WithDefaults()
	fail := func(stage string, err error) (domain.Artifact, error) {
		berr := &domain.BuildError{Bundle: spec.Name, Stage: stage, Err: err}
		b.logger.Error("bundle build failed", "bundle", spec.Name, "stage", stage, "error", err)
		b.recordEvent(ctx, ledger.ActionBuildFailed, spec.Name, map[string]any{
			"stage":        stage,
			"platform_tag": spec.TargetPlatformTag,
			"error":        err.Error(),
		})
		return domain.Artifact{}, berr
	}

	if err := spec.Validate(); err != nil {
		return fail(domain.StageValidate, err)
	}
	source, err := filepath.Abs(spec.SourceFolder)
	if err != nil {
		return fail(domain.StageValidate, err)
	}
	if info, err := os.Stat(source); err != nil {
		return fail(domain.StageValidate, fmt.Errorf("source folder: %w", err))
	} else if !info.IsDir() {
		return fail(domain.StageValidate, fmt.Errorf("source folder %q is not a directory", source))
	}

	manifest, err := ParseManifestFile(filepath.Join(source, domain.ManifestFile))
	if err != nil {
		return fail(domain.StageManifest, err)
	}
	if unpinned := manifest.Unpinned(); len(unpinned) > 0 {
		b.logger.Warn("manifest has unpinned requirements, rebuilds may resolve newer releases",
			"bundle", spec.Name, "requirements", unpinned)
	}

	workDir, err := os.MkdirTemp(b.opts.WorkDir, "bundle-"+sanitize(spec.Name)+"-")
	if err != nil {
		return fail(domain.StageContainer, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			b.logger.Warn("remove bundle work dir", "dir", workDir, "error", err)
		}
	}()
	outDir := filepath.Join(workDir, "output")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return fail(domain.StageContainer, fmt.Errorf("create output dir: %w", err))
	}

	image := BundlingImage(spec.Runtime)
	if resolver, ok := b.runner.(runtimeexec.ImageIDResolver); ok {
		if id, err := resolver.ResolveImageID(ctx, image); err == nil {
			b.logger.Info("bundling image resolved", "image", image, "image_id", id)
		} else if !errors.Is(err, runtimeexec.ErrImageRefNotFound) {
			b.logger.Warn("bundling image inspect failed", "image", image, "error", err)
		}
	}

	container := runtimeexec.ContainerSpec{
		Name:    b.newName(),
		Image:   image,
		Command: []string{"bash", "-c", InstallScript(spec.TargetPlatformTag)},
		WorkDir: containerInputDir,
		User:    b.opts.User,
		Mounts: []runtimeexec.Mount{
			{Source: source, Target: containerInputDir, ReadOnly: true},
			{Source: outDir, Target: containerOutputDir},
		},
	}
	b.logger.Info("bundle build started",
		"bundle", spec.Name,
		"platform_tag", spec.TargetPlatformTag,
		"requirements", len(manifest.Requirements),
		"index_options", len(manifest.Options),
		"container", container.Name,
		"runner", b.runner.Kind(),
	)
	if _, err := b.runner.Run(ctx, container); err != nil {
		return fail(domain.StageContainer, err)
	}

	if err := checkLayout(outDir); err != nil {
		return fail(domain.StageOutput, err)
	}

	pkg, err := assets.PackageDir(outDir, filepath.Join(workDir, "layer.zip"))
	if err != nil {
		return fail(domain.StagePackage, err)
	}

	published, err := b.publisher.Publish(ctx, assets.Request{
		Name:        spec.Name,
		Kind:        domain.ArtifactKindLayer,
		PlatformTag: spec.TargetPlatformTag,
		Package:     pkg,
	})
	if err != nil {
		return fail(domain.StagePublish, err)
	}
	artifact := published.Artifact

	current, err := b.ledger.CurrentLayerVersion(ctx, spec.Name)
	switch {
	case err == nil && current.Artifact.SHA256 == artifact.SHA256 && current.Artifact.Bucket == artifact.Bucket:
		b.logger.Info("bundle unchanged, keeping current layer version",
			"bundle", spec.Name, "version", current.Version, "sha256", artifact.SHA256)
		b.recordEvent(ctx, ledger.ActionLayerReused, spec.Name, map[string]any{
			"version": current.Version,
			"sha256":  artifact.SHA256,
		})
		return current.Artifact, nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return fail(domain.StageRecord, err)
	}

	version, err := b.ledger.RecordLayerVersion(ctx, spec.Name, artifact)
	if err != nil {
		return fail(domain.StageRecord, err)
	}
	b.logger.Info("bundle published",
		"bundle", spec.Name,
		"version", version.Version,
		"object_key", artifact.ObjectKey,
		"sha256", artifact.SHA256,
		"size_bytes", artifact.SizeBytes,
		"reused_object", published.Reused,
	)
	b.recordEvent(ctx, ledger.ActionLayerPublished, spec.Name, map[string]any{
		"version":      version.Version,
		"object_key":   artifact.ObjectKey,
		"sha256":       artifact.SHA256,
		"platform_tag": artifact.PlatformTag,
	})
	return artifact, nil
}

// PackageCode zips a function source folder as is and publishes it.
func (b *Builder) PackageCode(ctx context.Context, name, folder string) (domain.Artifact, error) {
	fail := func(stage string, err error) (domain.Artifact, error) {
		return domain.Artifact{}, &domain.BuildError{Bundle: name, Stage: stage, Err: err}
	}
	if strings.TrimSpace(name) == "" {
		return fail(domain.StageValidate, errors.New("name is required"))
	}
	workDir, err := os.MkdirTemp(b.opts.WorkDir, "code-"+sanitize(name)+"-")
	if err != nil {
		return fail(domain.StagePackage, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	pkg, err := assets.PackageDir(folder, filepath.Join(workDir, "code.zip"))
	if err != nil {
		return fail(domain.StagePackage, err)
	}
	published, err := b.publisher.Publish(ctx, assets.Request{Name: name, Kind: domain.ArtifactKindCode, Package: pkg})
	if err != nil {
		return fail(domain.StagePublish, err)
	}
	b.logger.Info("function code packaged", "name", name, "files", pkg.Files, "sha256", pkg.SHA256, "reused_object", published.Reused)
	return published.Artifact, nil
}

func (b *Builder) recordEvent(ctx context.Context, action, layer string, payload map[string]any) {
	_, err := b.ledger.RecordEvent(ctx, ledger.Event{
		DeploymentID: b.opts.DeploymentID,
		Action:       action,
		ResourceType: "layer",
		ResourceID:   layer,
		Payload:      payload,
	})
	if err != nil {
		b.logger.Warn("ledger event not recorded", "action", action, "layer", layer, "error", err)
	}
}

func checkLayout(outDir string) error {
	root := filepath.Join(outDir, domain.LayerPythonDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("expected %s/ in build output: %w", domain.LayerPythonDir, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%s/ is empty, install produced no packages", domain.LayerPythonDir)
	}
	top, err := os.ReadDir(outDir)
	if err != nil {
		return err
	}
	for _, e := range top {
		if e.Name() != domain.LayerPythonDir {
			return fmt.Errorf("unexpected top-level entry %q in build output", e.Name())
		}
	}
	return nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "bundle"
	}
	return b.String()
}
