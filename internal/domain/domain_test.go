package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestBundleSpecValidateAggregatesIssues(t *testing.T) {
	err := BundleSpec{Runtime: "node20"}.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Issues) != 4 {
		t.Fatalf("expected 4 issues, got %d: %v", len(verr.Issues), verr.Issues)
	}
}

func TestBundleSpecValidatePlatformTag(t *testing.T) {
	spec := BundleSpec{Name: "deps", SourceFolder: "layer", TargetPlatformTag: "manylinux2014_aarch64"}.WithDefaults()
	if err := spec.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec.TargetPlatformTag = "linux/arm64"
	if err := spec.Validate(); err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Fatalf("expected malformed tag error, got %v", err)
	}
}

func TestBuildErrorWrapsSentinel(t *testing.T) {
	cause := errors.New("no matching distribution")
	err := error(&BuildError{Bundle: "deps", Stage: StageContainer, Err: cause})
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped")
	}
	if !strings.Contains(err.Error(), "container failed") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestEnsureArtifactImmutable(t *testing.T) {
	before := Artifact{ObjectKey: "assets/a.zip", SHA256: strings.Repeat("a", 64), SizeBytes: 10}
	if err := EnsureArtifactImmutable(before, before); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := before
	after.SHA256 = strings.Repeat("b", 64)
	if err := EnsureArtifactImmutable(before, after); err == nil {
		t.Fatalf("expected sha256 change to be rejected")
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	issues := &ValidationError{}
	issues.Add("  ")
	if issues.OrNil() != nil {
		t.Fatalf("blank issues must be ignored")
	}
}
