package stack

import (
	"errors"
	"fmt"

	"github.com/animus-labs/jobscraper/internal/domain"
)

// StagingBucket is the bucket expression used for assets that were staged
// locally; the deployment backend uploads them there before stack creation.
var StagingBucket = map[string]any{"Fn::Sub": "jobscraper-assets-${AWS::AccountId}-${AWS::Region}"}

// Layer is a Lambda layer version built from a dependency bundle.
type Layer struct {
	base
	Artifact           domain.Artifact
	Description        string
	CompatibleRuntimes []string
	Architecture       string
}

// NewLayer registers the layer for a built bundle. The architecture follows
// from the bundle's platform tag.
func NewLayer(app *App, spec domain.BundleSpec, artifact domain.Artifact) (*Layer, error) {
	spec = spec.WithDefaults()
	arch, err := domain.ArchitectureForPlatformTag(spec.TargetPlatformTag)
	if err != nil {
		return nil, err
	}
	layer := &Layer{
		base:               base{id: spec.Name},
		Artifact:           artifact,
		Description:        spec.Description,
		CompatibleRuntimes: append([]string(nil), spec.CompatibleRuntimes...),
		Architecture:       arch,
	}
	if err := app.Add(layer); err != nil {
		return nil, err
	}
	return layer, nil
}

func (l *Layer) Validate() error {
	if l.Artifact.Kind != domain.ArtifactKindLayer {
		return fmt.Errorf("artifact kind %q is not a layer", l.Artifact.Kind)
	}
	if err := l.Artifact.Validate(); err != nil {
		return err
	}
	if len(l.CompatibleRuntimes) == 0 {
		return errors.New("compatible runtimes are required")
	}
	return nil
}

func (l *Layer) Descriptor() Descriptor {
	props := map[string]any{
		"Content":                 s3Location(l.Artifact),
		"CompatibleRuntimes":      l.CompatibleRuntimes,
		"CompatibleArchitectures": []string{l.Architecture},
	}
	if l.Description != "" {
		props["Description"] = l.Description
	}
	return Descriptor{Type: "AWS::Lambda::LayerVersion", Properties: props, DependsOn: l.deps()}
}

func (l *Layer) Assets() []domain.Artifact { return []domain.Artifact{l.Artifact} }

// ARN is what a function lists in its Layers property.
func (l *Layer) ARN() map[string]any { return Ref(l.ID()) }

func s3Location(a domain.Artifact) map[string]any {
	var bucket any = a.Bucket
	if a.Bucket == "" {
		bucket = StagingBucket
	}
	return map[string]any{"S3Bucket": bucket, "S3Key": a.ObjectKey}
}
