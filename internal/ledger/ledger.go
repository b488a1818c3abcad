// Package ledger records published layer versions and deployment events.
//
// A layer version is only recorded after its artifact has been uploaded, so
// Current always names an artifact that exists. Failed builds never reach the
// ledger and the previously recorded version stays current.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	RecordLayerVersion(ctx context.Context, layerName string, artifact domain.Artifact) (domain.LayerVersion, error)
	CurrentLayerVersion(ctx context.Context, layerName string) (domain.LayerVersion, error)
	RecordEvent(ctx context.Context, event Event) (Event, error)
}

// Event is an append-only deployment ledger entry.
type Event struct {
	ID           int64
	OccurredAt   time.Time
	DeploymentID string
	Action       string
	ResourceType string
	ResourceID   string
	Payload      any
	Integrity    string
}

const (
	ActionLayerPublished = "layer.published"
	ActionLayerReused    = "layer.reused"
	ActionBuildFailed    = "layer.build_failed"
	ActionStackSynth     = "stack.synthesized"
)
