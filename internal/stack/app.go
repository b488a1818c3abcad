// Package stack describes the job scraper deployment as a set of resources
// and synthesizes them into a CloudFormation-shaped template.
package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/jobscraper/internal/domain"
	"github.com/animus-labs/jobscraper/internal/nag"
)

var (
	ErrDuplicateID = errors.New("duplicate logical id")
	ErrFinalized   = errors.New("app already synthesized")
)

// App is the build context every resource constructor receives. Resources
// are collected until Synth, which runs once.
type App struct {
	mu          sync.Mutex
	name        string
	description string
	rules       nag.RuleSet
	resources   []Resource
	index       map[string]Resource
	outputs     map[string]Output

	finalized bool
	template  *Template
	synthErr  error
}

type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value" yaml:"Value"`
}

type Option func(*App)

// WithRules replaces the built-in security rule pack.
func WithRules(rs nag.RuleSet) Option {
	return func(a *App) { a.rules = rs }
}

func WithDescription(description string) Option {
	return func(a *App) { a.description = strings.TrimSpace(description) }
}

func NewApp(name string, opts ...Option) (*App, error) {
	name = strings.TrimSpace(name)
	if err := validateLogicalID(name); err != nil {
		return nil, fmt.Errorf("stack name: %w", err)
	}
	app := &App{
		name:    name,
		rules:   nag.Default(),
		index:   make(map[string]Resource),
		outputs: make(map[string]Output),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

func (a *App) Name() string { return a.name }

// Add registers a resource. Ids are unique within the app.
func (a *App) Add(r Resource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	id := r.ID()
	if err := validateLogicalID(id); err != nil {
		return err
	}
	if _, ok := a.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	a.index[id] = r
	a.resources = append(a.resources, r)
	return nil
}

func (a *App) Lookup(id string) (Resource, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.index[id]
	return r, ok
}

func (a *App) AddOutput(id string, value any, description string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	if err := validateLogicalID(id); err != nil {
		return err
	}
	if _, ok := a.outputs[id]; ok {
		return fmt.Errorf("%w: output %s", ErrDuplicateID, id)
	}
	a.outputs[id] = Output{Description: description, Value: value}
	return nil
}

// Synth validates every resource, resolves references, orders resources so
// each comes after what it references, and runs the security checks. The
// first call finalizes the app; later calls return the same result.
func (a *App) Synth() (*Template, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return a.template, a.synthErr
	}
	a.finalized = true
	a.template, a.synthErr = a.synth()
	return a.template, a.synthErr
}

type node struct {
	resource   Resource
	descriptor TemplateResource
	refs       []string
}

func (a *App) synth() (*Template, error) {
	issues := &domain.ValidationError{Subject: "stack " + a.name}
	if len(a.resources) == 0 {
		issues.Add("stack has no resources")
	}

	nodes := make(map[string]*node, len(a.resources))
	for _, r := range a.resources {
		if err := r.Validate(); err != nil {
			issues.Addf("%s: %v", r.ID(), err)
			continue
		}
		d := r.Descriptor()
		props, err := normalize(d.Properties)
		if err != nil {
			issues.Addf("%s: %v", r.ID(), err)
			continue
		}
		tr := TemplateResource{
			Type:       d.Type,
			Properties: props,
			DependsOn:  sortedUnique(d.DependsOn),
		}
		if s, ok := r.(suppressible); ok {
			if list := s.Suppressions(); len(list) > 0 {
				tr.Metadata = map[string]any{"cdk_nag": map[string]any{"rules_to_suppress": list}}
			}
		}
		nodes[r.ID()] = &node{resource: r, descriptor: tr, refs: references(props)}
	}

	for _, r := range a.resources {
		n, ok := nodes[r.ID()]
		if !ok {
			continue
		}
		for _, ref := range n.refs {
			if _, ok := a.index[ref]; !ok {
				issues.Addf("%s: reference to unknown resource %q", r.ID(), ref)
			}
		}
		for _, dep := range n.descriptor.DependsOn {
			if _, ok := a.index[dep]; !ok {
				issues.Addf("%s: depends on unknown resource %q", r.ID(), dep)
			}
		}
	}
	for id, out := range a.outputs {
		for _, ref := range references(out.Value) {
			if _, ok := a.index[ref]; !ok {
				issues.Addf("output %s: reference to unknown resource %q", id, ref)
			}
		}
	}
	if err := issues.OrNil(); err != nil {
		return nil, err
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	referencedBy := make(map[string][]string, len(nodes))
	for _, id := range order {
		n := nodes[id]
		for _, ref := range append(append([]string(nil), n.refs...), n.descriptor.DependsOn...) {
			referencedBy[ref] = append(referencedBy[ref], n.descriptor.Type)
		}
	}

	tmpl := &Template{
		FormatVersion: TemplateFormatVersion,
		Description:   a.description,
		Resources:     make(map[string]TemplateResource, len(nodes)),
		Order:         order,
	}
	if len(a.outputs) > 0 {
		tmpl.Outputs = make(map[string]Output, len(a.outputs))
		for id, out := range a.outputs {
			tmpl.Outputs[id] = out
		}
	}

	subjects := make([]nag.Subject, 0, len(order))
	for _, id := range order {
		n := nodes[id]
		tmpl.Resources[id] = n.descriptor
		if u, ok := n.resource.(assetUser); ok {
			tmpl.Assets = append(tmpl.Assets, u.Assets()...)
		}

		fields := map[string]any{
			"Type":         n.descriptor.Type,
			"Properties":   n.descriptor.Properties,
			"ReferencedBy": toAny(sortedUnique(referencedBy[id])),
		}
		subject := nag.Subject{ID: id, Type: n.descriptor.Type, Fields: fields}
		if s, ok := n.resource.(suppressible); ok {
			subject.Suppressions = s.Suppressions()
		}
		subjects = append(subjects, subject)
	}
	tmpl.Assets = dedupAssets(tmpl.Assets)

	report, err := nag.Check(a.rules, subjects)
	if err != nil {
		return nil, fmt.Errorf("security checks: %w", err)
	}
	tmpl.Checks = report
	if err := report.Err(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// topoSort orders ids so references come first. Ties break by id, so the
// order is stable across runs.
func topoSort(nodes map[string]*node) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	adj := make(map[string][]string, len(nodes))
	for id := range nodes {
		inDegree[id] += 0
	}
	for id, n := range nodes {
		for _, dep := range sortedUnique(append(append([]string(nil), n.refs...), n.descriptor.DependsOn...)) {
			if dep == id {
				return nil, fmt.Errorf("%s references itself", id)
			}
			adj[dep] = append(adj[dep], id)
			inDegree[id]++
		}
	}

	ready := make([]string, 0, len(nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}

	if len(ordered) != len(nodes) {
		var cycle []string
		for id, degree := range inDegree {
			if degree > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("resource references form a cycle: %s", strings.Join(cycle, ", "))
	}
	return ordered, nil
}

// normalize converts typed property values into their JSON form so the
// template, reference resolution and the checks all see the same shapes.
func normalize(props map[string]any) (map[string]any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return out, nil
}

func sortedUnique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func dedupAssets(in []domain.Artifact) []domain.Artifact {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Artifact, 0, len(in))
	for _, a := range in {
		key := a.Bucket + "/" + a.ObjectKey
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
