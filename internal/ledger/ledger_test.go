package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
)

func artifact(sha string) domain.Artifact {
	return domain.Artifact{
		Name:        "PythonLambdaLayer",
		Kind:        domain.ArtifactKindLayer,
		Bucket:      "assets",
		ObjectKey:   "assets/" + sha + ".zip",
		SHA256:      sha,
		SizeBytes:   42,
		PlatformTag: "manylinux2014_aarch64",
	}
}

func TestMemoryStoreVersionsIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.CurrentLayerVersion(ctx, "PythonLambdaLayer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, err := store.RecordLayerVersion(ctx, "PythonLambdaLayer", artifact(strings.Repeat("a", 64)))
	if err != nil {
		t.Fatalf("RecordLayerVersion() err=%v", err)
	}
	second, err := store.RecordLayerVersion(ctx, "PythonLambdaLayer", artifact(strings.Repeat("b", 64)))
	if err != nil {
		t.Fatalf("RecordLayerVersion() err=%v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("unexpected versions %d, %d", first.Version, second.Version)
	}

	current, err := store.CurrentLayerVersion(ctx, "PythonLambdaLayer")
	if err != nil {
		t.Fatalf("CurrentLayerVersion() err=%v", err)
	}
	if current.Artifact.SHA256 != strings.Repeat("b", 64) {
		t.Fatalf("expected latest version to be current, got %+v", current)
	}
}

func TestMemoryStoreRejectsInvalidArtifact(t *testing.T) {
	store := NewMemoryStore()
	bad := artifact("short")
	if _, err := store.RecordLayerVersion(context.Background(), "PythonLambdaLayer", bad); err == nil {
		t.Fatalf("expected invalid artifact error")
	}
}

func TestMemoryStoreRecordEvent(t *testing.T) {
	store := NewMemoryStore()
	event, err := store.RecordEvent(context.Background(), Event{
		DeploymentID: "dep-1",
		Action:       ActionLayerPublished,
		ResourceType: "layer",
		ResourceID:   "PythonLambdaLayer",
		Payload:      map[string]any{"sha256": "abc"},
	})
	if err != nil {
		t.Fatalf("RecordEvent() err=%v", err)
	}
	if event.ID != 1 || event.Integrity == "" || event.OccurredAt.IsZero() {
		t.Fatalf("unexpected event %+v", event)
	}
	if got := len(store.Events()); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}

	if _, err := store.RecordEvent(context.Background(), Event{Action: ActionStackSynth}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestComputeIntegritySHA256(t *testing.T) {
	event := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		DeploymentID: "dep-1",
		Action:       ActionLayerPublished,
		ResourceType: "layer",
		ResourceID:   "PythonLambdaLayer",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	c, err := ComputeIntegritySHA256(event, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity must be deterministic")
	}
	if a == c {
		t.Fatalf("integrity must change with payload")
	}
}

func TestNewPostgresStoreNilDB(t *testing.T) {
	if NewPostgresStore(nil) != nil {
		t.Fatalf("expected nil store for nil db")
	}
}
