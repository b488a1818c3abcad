package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ArtifactKindLayer = "layer"
	ArtifactKindCode  = "code"
)

// Artifact is an immutable, content-addressed asset published for the stack.
type Artifact struct {
	Name        string
	Kind        string
	Bucket      string
	ObjectKey   string
	SHA256      string
	SizeBytes   int64
	PlatformTag string
	CreatedAt   time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("artifact name is required")
	}
	switch a.Kind {
	case ArtifactKindLayer, ArtifactKindCode:
	default:
		return fmt.Errorf("artifact kind %q unsupported", a.Kind)
	}
	if strings.TrimSpace(a.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	if len(strings.TrimSpace(a.SHA256)) != 64 {
		return errors.New("sha256 must be 64 hex characters")
	}
	if a.SizeBytes <= 0 {
		return errors.New("size bytes must be positive")
	}
	return nil
}

// EnsureArtifactImmutable enforces that a published artifact never changes
// identity or content.
func EnsureArtifactImmutable(before, after Artifact) error {
	if before.ObjectKey == "" || after.ObjectKey == "" {
		return errors.New("artifact object keys are required")
	}
	if before.ObjectKey != after.ObjectKey {
		return fmt.Errorf("object key changed from %q to %q", before.ObjectKey, after.ObjectKey)
	}
	if before.Bucket != after.Bucket {
		return errors.New("bucket is immutable")
	}
	if before.SHA256 != after.SHA256 {
		return errors.New("sha256 is immutable")
	}
	if before.SizeBytes != after.SizeBytes {
		return errors.New("size bytes is immutable")
	}
	return nil
}

// LayerVersion is a ledger entry recording a successfully published layer.
type LayerVersion struct {
	LayerName string
	Version   int
	Artifact  Artifact
	CreatedAt time.Time
}
