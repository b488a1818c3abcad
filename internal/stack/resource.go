package stack

import (
	"fmt"
	"regexp"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/nag"
)

// Resource is one entry in the synthesized template.
type Resource interface {
	ID() string
	Validate() error
	Descriptor() Descriptor
}

// Descriptor is the template form of a resource. Properties may hold
// references built with Ref, GetAtt and Join; the app orders resources by
// those references and by DependsOn.
type Descriptor struct {
	Type       string
	Properties map[string]any
	DependsOn  []string
}

// suppressible resources carry security check suppressions into metadata.
type suppressible interface {
	Suppressions() []nag.Suppression
}

// assetUser resources point at uploaded artifacts.
type assetUser interface {
	Assets() []domain.Artifact
}

// logical ids follow template rules: alphanumeric, at most 255 characters.
var logicalIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,254}$`)

func validateLogicalID(id string) error {
	if !logicalIDPattern.MatchString(id) {
		return fmt.Errorf("logical id %q must be alphanumeric and start with a letter", id)
	}
	return nil
}

// base holds what every resource shares.
type base struct {
	id           string
	dependsOn    []string
	suppressions []nag.Suppression
}

func (b *base) ID() string { return b.id }

func (b *base) AddSuppressions(s ...nag.Suppression) {
	b.suppressions = append(b.suppressions, s...)
}

func (b *base) Suppressions() []nag.Suppression {
	return append([]nag.Suppression(nil), b.suppressions...)
}

func (b *base) addDependency(id string) {
	for _, existing := range b.dependsOn {
		if existing == id {
			return
		}
	}
	b.dependsOn = append(b.dependsOn, id)
}

func (b *base) deps() []string {
	return append([]string(nil), b.dependsOn...)
}
