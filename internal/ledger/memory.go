package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
)

// MemoryStore keeps the ledger in process. It is used when no ledger
// database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string][]domain.LayerVersion
	events   []Event
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]domain.LayerVersion),
		now:      time.Now,
	}
}

func (s *MemoryStore) RecordLayerVersion(ctx context.Context, layerName string, artifact domain.Artifact) (domain.LayerVersion, error) {
	layerName = strings.TrimSpace(layerName)
	if layerName == "" {
		return domain.LayerVersion{}, fmt.Errorf("layer name is required")
	}
	if err := artifact.Validate(); err != nil {
		return domain.LayerVersion{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.versions[layerName]
	version := domain.LayerVersion{
		LayerName: layerName,
		Version:   len(history) + 1,
		Artifact:  artifact,
		CreatedAt: s.now().UTC(),
	}
	s.versions[layerName] = append(history, version)
	return version, nil
}

func (s *MemoryStore) CurrentLayerVersion(ctx context.Context, layerName string) (domain.LayerVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.versions[strings.TrimSpace(layerName)]
	if len(history) == 0 {
		return domain.LayerVersion{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, event Event) (Event, error) {
	event, _, err := prepareEvent(event, s.now)
	if err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return event, nil
}

// Events returns a copy of the recorded events in insertion order.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
