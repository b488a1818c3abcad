package stack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/nag"
	"gopkg.in/yaml.v3"
)

const TemplateFormatVersion = "2010-09-09"

type Template struct {
	FormatVersion string                      `json:"AWSTemplateFormatVersion"`
	Description   string                      `json:"Description,omitempty"`
	Resources     map[string]TemplateResource `json:"Resources"`
	Outputs       map[string]Output           `json:"Outputs,omitempty"`

	// Order lists resource ids so that every resource follows the ones it
	// references.
	Order  []string          `json:"-"`
	Assets []domain.Artifact `json:"-"`
	Checks nag.Report        `json:"-"`
}

type TemplateResource struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty"`
	Metadata   map[string]any `json:"Metadata,omitempty"`
}

// ResourcesOfType returns ids of the given type in template order.
func (t *Template) ResourcesOfType(resourceType string) []string {
	var out []string
	for _, id := range t.Order {
		if t.Resources[id].Type == resourceType {
			out = append(out, id)
		}
	}
	return out
}

// JSON renders the template with sorted keys and two-space indentation.
func (t *Template) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	return buf.Bytes(), nil
}

// YAML renders the same document as JSON, in YAML syntax.
func (t *Template) YAML() ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode template yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AssetManifest lists the artifacts the template expects to find uploaded.
type AssetManifest struct {
	Version string          `json:"version"`
	Assets  []ManifestAsset `json:"assets"`
}

type ManifestAsset struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Bucket      string `json:"bucket,omitempty"`
	ObjectKey   string `json:"object_key"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
	PlatformTag string `json:"platform_tag,omitempty"`
	Staged      bool   `json:"staged"`
}

const assetManifestVersion = "jobscraper.assets.v1"

func (t *Template) AssetManifest() AssetManifest {
	m := AssetManifest{Version: assetManifestVersion, Assets: make([]ManifestAsset, 0, len(t.Assets))}
	for _, a := range t.Assets {
		m.Assets = append(m.Assets, ManifestAsset{
			Name:        a.Name,
			Kind:        a.Kind,
			Bucket:      a.Bucket,
			ObjectKey:   a.ObjectKey,
			SHA256:      a.SHA256,
			SizeBytes:   a.SizeBytes,
			PlatformTag: a.PlatformTag,
			Staged:      a.Bucket == "",
		})
	}
	sort.Slice(m.Assets, func(i, j int) bool { return m.Assets[i].ObjectKey < m.Assets[j].ObjectKey })
	return m
}
