package bundle

import (
	"context"

	"github.com/animus-labs/jobscraper/internal/domain"
	"golang.org/x/sync/errgroup"
)

// BuildAll builds specs concurrently, one container and one work dir per
// spec, and returns artifacts in spec order. The first failure cancels the
// remaining builds.
func (b *Builder) BuildAll(ctx context.Context, specs []domain.BundleSpec) ([]domain.Artifact, error) {
	out := make([]domain.Artifact, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			artifact, err := b.Build(gctx, spec)
			if err != nil {
				return err
			}
			out[i] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
