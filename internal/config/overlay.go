package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Overlay is the optional YAML file named by JOBSCRAPER_CONFIG. Fields left
// out keep their defaults; environment variables still take precedence.
type Overlay struct {
	StackName   string   `yaml:"stack_name"`
	SearchTerms []string `yaml:"search_terms"`
	Schedule    string   `yaml:"schedule"`
	Layer       struct {
		Platform  string `yaml:"platform"`
		SourceDir string `yaml:"source_dir"`
	} `yaml:"layer"`
	FunctionSourceDir string `yaml:"function_source_dir"`
	OutputDir         string `yaml:"output_dir"`
	RequireSSL        bool   `yaml:"require_ssl"`
	RulesFile         string `yaml:"nag_rules"`
}

func LoadOverlay(path string) (Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("read config overlay: %w", err)
	}
	return ParseOverlay(raw)
}

// ParseOverlay rejects unknown keys so a misspelt field is not silently ignored.
func ParseOverlay(raw []byte) (Overlay, error) {
	var o Overlay
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Overlay{}, fmt.Errorf("decode config overlay: %w", err)
	}
	return o, nil
}
