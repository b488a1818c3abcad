package stack

import (
	"regexp"
	"sort"
	"time"

	"github.com/animus-labs/jobscraper/internal/domain"
)

const (
	// MaxTimeout is the longest the scraper may run per invocation.
	MaxTimeout = 30 * time.Second
	// maxLayers is the Lambda limit on layers per function.
	maxLayers = 5
	// maxEnvironmentBytes is the Lambda limit on the total environment size.
	maxEnvironmentBytes = 4096

	BasicExecutionPolicy = "service-role/AWSLambdaBasicExecutionRole"
	policyVersion        = "2012-10-17"
)

var (
	handlerPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)
	envKeyPattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

type FunctionProps struct {
	Runtime      string
	Architecture string
	Handler      string
	Timeout      time.Duration
	Description  string
	Code         domain.Artifact
	// Environment values are strings or references such as Channel.TopicARN.
	Environment map[string]any
	Layers      []*Layer
}

// Role is the execution role assumed by a function.
type Role struct {
	base
	ManagedPolicies []string
}

func (r *Role) Validate() error { return nil }

func (r *Role) Descriptor() Descriptor {
	arns := make([]any, 0, len(r.ManagedPolicies))
	for _, name := range r.ManagedPolicies {
		arns = append(arns, ManagedPolicyARN(name))
	}
	props := map[string]any{
		"AssumeRolePolicyDocument": map[string]any{
			"Version": policyVersion,
			"Statement": []any{map[string]any{
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
				"Action":    "sts:AssumeRole",
			}},
		},
	}
	if len(arns) > 0 {
		props["ManagedPolicyArns"] = arns
	}
	return Descriptor{Type: "AWS::IAM::Role", Properties: props, DependsOn: r.deps()}
}

type Function struct {
	base
	props FunctionProps
	role  *Role
}

// NewFunction registers the function together with its execution role. The
// role carries only the basic execution policy; grants add more.
func NewFunction(app *App, id string, props FunctionProps) (*Function, error) {
	role := &Role{
		base:            base{id: id + "ServiceRole"},
		ManagedPolicies: []string{BasicExecutionPolicy},
	}
	if err := app.Add(role); err != nil {
		return nil, err
	}
	env := make(map[string]any, len(props.Environment))
	for k, v := range props.Environment {
		env[k] = v
	}
	props.Environment = env
	props.Layers = append([]*Layer(nil), props.Layers...)

	fn := &Function{base: base{id: id}, props: props, role: role}
	fn.addDependency(role.ID())
	if err := app.Add(fn); err != nil {
		return nil, err
	}
	return fn, nil
}

func (f *Function) Role() *Role { return f.role }

func (f *Function) ARN() map[string]any { return GetAtt(f.ID(), "Arn") }

func (f *Function) Layers() []*Layer { return append([]*Layer(nil), f.props.Layers...) }

// EnvironmentKeys returns the configured variable names, sorted.
func (f *Function) EnvironmentKeys() []string { return sortedKeys(f.props.Environment) }

func (f *Function) Validate() error {
	p := f.props
	issues := &domain.ValidationError{}
	if !domain.IsPythonRuntime(p.Runtime) {
		issues.Addf("runtime %q is not supported", p.Runtime)
	}
	switch p.Architecture {
	case domain.ArchitectureARM64, domain.ArchitectureX86_64:
	default:
		issues.Addf("architecture %q is not supported", p.Architecture)
	}
	if !handlerPattern.MatchString(p.Handler) {
		issues.Addf("handler %q must be module.function", p.Handler)
	}
	if p.Timeout <= 0 || p.Timeout > MaxTimeout {
		issues.Addf("timeout %s must be between 1s and %s", p.Timeout, MaxTimeout)
	} else if p.Timeout%time.Second != 0 {
		issues.Addf("timeout %s must be whole seconds", p.Timeout)
	}
	if p.Code.Kind != domain.ArtifactKindCode {
		issues.Addf("code artifact kind %q is not code", p.Code.Kind)
	} else if err := p.Code.Validate(); err != nil {
		issues.Addf("code: %v", err)
	}

	size := 0
	for key, value := range p.Environment {
		if !envKeyPattern.MatchString(key) {
			issues.Addf("environment key %q is invalid", key)
		}
		size += len(key)
		if s, ok := value.(string); ok {
			size += len(s)
		}
	}
	if size > maxEnvironmentBytes {
		issues.Addf("environment is %d bytes, max %d", size, maxEnvironmentBytes)
	}

	if len(p.Layers) > maxLayers {
		issues.Addf("%d layers attached, max %d", len(p.Layers), maxLayers)
	}
	for _, layer := range p.Layers {
		if layer == nil {
			issues.Add("nil layer")
			continue
		}
		if layer.Architecture != p.Architecture {
			issues.Addf("layer %s is built for %s, function runs on %s", layer.ID(), layer.Architecture, p.Architecture)
		}
		if !contains(layer.CompatibleRuntimes, p.Runtime) {
			issues.Addf("layer %s is not compatible with %s", layer.ID(), p.Runtime)
		}
	}
	return issues.OrNil()
}

func (f *Function) Descriptor() Descriptor {
	p := f.props
	props := map[string]any{
		"Runtime":       p.Runtime,
		"Architectures": []string{p.Architecture},
		"Handler":       p.Handler,
		"Timeout":       int(p.Timeout / time.Second),
		"Role":          GetAtt(f.role.ID(), "Arn"),
		"Code":          s3Location(p.Code),
	}
	if p.Description != "" {
		props["Description"] = p.Description
	}
	if len(p.Environment) > 0 {
		props["Environment"] = map[string]any{"Variables": p.Environment}
	}
	if len(p.Layers) > 0 {
		layers := make([]any, 0, len(p.Layers))
		for _, l := range p.Layers {
			layers = append(layers, l.ARN())
		}
		props["Layers"] = layers
	}
	return Descriptor{Type: "AWS::Lambda::Function", Properties: props, DependsOn: f.deps()}
}

func (f *Function) Assets() []domain.Artifact { return []domain.Artifact{f.props.Code} }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
