package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/jobscraper/internal/assets"
	"github.com/animus-labs/jobscraper/internal/bundle"
	"github.com/animus-labs/jobscraper/internal/config"
	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/handlerenv"
	"github.com/animus-labs/jobscraper/internal/ledger"
	"github.com/animus-labs/jobscraper/internal/platform/objectstore"
	"github.com/animus-labs/jobscraper/internal/platform/postgres"
	"github.com/animus-labs/jobscraper/internal/runtimeexec"
	"github.com/google/uuid"
)

const usage = `usage: deployer <command> [flags]

commands:
  synth        build the dependency layer, package the function and write the template
  build-layer  build and publish the dependency layer only
  plan         synthesize against the last published layer and print the result
  notify       send the daily digest from the function environment to the log
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	command, args := args[0], args[1:]
	if command == "notify" {
		return runNotify(ctx, logger, args, stderr)
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", formatJSON, "template format: json or yaml")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *format != formatJSON && *format != formatYAML {
		fmt.Fprintf(stderr, "unsupported format %q\n", *format)
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}
	logger.Info("configuration loaded", "config", cfg)

	d, cleanup, err := wire(ctx, logger, cfg)
	if err != nil {
		logger.Error("deployer init failed", "error", err)
		return exitCode(err)
	}
	defer cleanup()

	switch command {
	case "synth":
		err = d.Synth(ctx, *format)
	case "build-layer":
		_, err = d.BuildLayers(ctx)
	case "plan":
		err = d.Plan(ctx, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
	if err != nil {
		logger.Error(command+" failed", "error", err)
		return exitCode(err)
	}
	return 0
}

// runNotify runs the scraper function's notification path locally: it loads
// the function environment, builds the digest and hands it to a publisher
// that writes to the log instead of the topic.
func runNotify(ctx context.Context, logger *slog.Logger, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	quote := fs.String("quote", "Stay curious.", "message sent when there are no updates")
	var updates []handlerenv.Update
	fs.Func("update", "site=url of a source with new content (repeatable)", func(v string) error {
		site, url, ok := strings.Cut(v, "=")
		site, url = strings.TrimSpace(site), strings.TrimSpace(url)
		if !ok || site == "" || url == "" {
			return fmt.Errorf("want site=url, got %q", v)
		}
		updates = append(updates, handlerenv.Update{Site: site, URL: url})
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := handlerenv.Load()
	if err != nil {
		logger.Error("invalid function environment", "error", err)
		return 2
	}
	notifier, err := handlerenv.NewNotifier(logger, handlerenv.LogPublisher{Logger: logger}, e)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		return 1
	}
	subject, message := e.Digest(updates, *quote)
	if err := notifier.Notify(ctx, subject, message); err != nil {
		logger.Error("notify failed", "error", err)
		return 1
	}
	return 0
}

func exitCode(err error) int {
	if errors.Is(err, domain.ErrConfiguration) {
		return 2
	}
	return 1
}

// wire picks the asset publisher and ledger from configuration: an object
// store bucket and a postgres ledger when configured, otherwise local
// staging and an in-memory ledger.
func wire(ctx context.Context, logger *slog.Logger, cfg config.Config) (*Deployer, func(), error) {
	cleanup := func() {}

	var publisher assets.Publisher
	if cfg.Assets.Enabled() {
		store, err := objectstore.NewMinioStore(cfg.Assets)
		if err != nil {
			return nil, cleanup, fmt.Errorf("asset store client: %w", err)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = objectstore.EnsureBucket(startupCtx, store.Client(), cfg.Assets)
		cancel()
		if err != nil {
			return nil, cleanup, err
		}
		if publisher, err = assets.NewObjectStorePublisher(store, cfg.Assets.Bucket); err != nil {
			return nil, cleanup, err
		}
		logger.Info("publishing assets to bucket", "bucket", cfg.Assets.Bucket, "endpoint", cfg.Assets.Endpoint)
	} else {
		staging, err := assets.NewStagingPublisher(cfg.StagingDir())
		if err != nil {
			return nil, cleanup, err
		}
		publisher = staging
		logger.Info("no asset bucket configured, staging assets locally", "dir", cfg.StagingDir())
	}

	var store ledger.Store
	if cfg.Ledger.Enabled() {
		db, err := postgres.Open(ctx, cfg.Ledger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("ledger database: %w", err)
		}
		cleanup = func() { _ = db.Close() }
		pg := ledger.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, cleanup, err
		}
		store = pg
	} else {
		logger.Warn("no ledger database configured, layer versions are not kept between runs")
		store = ledger.NewMemoryStore()
	}

	runner := runtimeexec.NewDockerRunner(cfg.DockerBin)
	deploymentID := uuid.NewString()
	builder, err := bundle.NewBuilder(logger, runner, publisher, store, bundle.Options{
		User:         containerUser(),
		DeploymentID: deploymentID,
	})
	if err != nil {
		return nil, cleanup, err
	}

	d, err := NewDeployer(logger, cfg, builder, store, deploymentID)
	return d, cleanup, err
}

// containerUser maps container output ownership to the calling user. Empty
// where uids do not exist.
func containerUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}
