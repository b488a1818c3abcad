package domain

import (
	"errors"
	"regexp"
	"strings"
)

const (
	RuntimePython312 = "python3.12"
	RuntimePython313 = "python3.13"

	ArchitectureARM64  = "arm64"
	ArchitectureX86_64 = "x86_64"

	// ManifestFile is the dependency manifest expected in a bundle source folder.
	ManifestFile = "requirements.txt"
	// LayerPythonDir is the top-level directory the Python runtime adds to
	// sys.path for attached layers.
	LayerPythonDir = "python"
)

// platform tags as understood by pip: manylinux2014_aarch64, manylinux_2_28_x86_64, ...
var platformTagPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// BundleSpec describes a dependency layer to build.
type BundleSpec struct {
	Name               string
	TargetPlatformTag  string
	SourceFolder       string
	Description        string
	Runtime            string
	CompatibleRuntimes []string
}

// WithDefaults fills the runtime fields the stack uses when none are given.
func (s BundleSpec) WithDefaults() BundleSpec {
	if strings.TrimSpace(s.Runtime) == "" {
		s.Runtime = RuntimePython313
	}
	if len(s.CompatibleRuntimes) == 0 {
		s.CompatibleRuntimes = []string{RuntimePython312, RuntimePython313}
	}
	return s
}

func (s BundleSpec) Validate() error {
	issues := &ValidationError{Subject: "bundle spec"}
	if strings.TrimSpace(s.Name) == "" {
		issues.Add("name is required")
	}
	tag := strings.TrimSpace(s.TargetPlatformTag)
	switch {
	case tag == "":
		issues.Add("target platform tag is required")
	case !platformTagPattern.MatchString(tag):
		issues.Addf("target platform tag %q is malformed", tag)
	}
	if strings.TrimSpace(s.SourceFolder) == "" {
		issues.Add("source folder is required")
	}
	if rt := strings.TrimSpace(s.Runtime); rt != "" && !IsPythonRuntime(rt) {
		issues.Addf("runtime %q is not a supported python runtime", rt)
	}
	for _, rt := range s.CompatibleRuntimes {
		if !IsPythonRuntime(rt) {
			issues.Addf("compatible runtime %q is not a supported python runtime", rt)
		}
	}
	return issues.OrNil()
}

func IsPythonRuntime(rt string) bool {
	switch strings.TrimSpace(rt) {
	case RuntimePython312, RuntimePython313:
		return true
	default:
		return false
	}
}

// ArchitectureForPlatformTag maps a pip platform tag to the Lambda
// architecture whose wheels it selects.
func ArchitectureForPlatformTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	switch {
	case strings.HasSuffix(tag, "_aarch64"):
		return ArchitectureARM64, nil
	case strings.HasSuffix(tag, "_x86_64"):
		return ArchitectureX86_64, nil
	default:
		return "", errors.New("platform tag " + tag + " does not target a supported architecture")
	}
}
