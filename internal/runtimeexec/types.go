package runtimeexec

import (
	"context"
	"errors"
)

// Runner executes a single, ephemeral container to completion.
type Runner interface {
	Kind() string
	Run(ctx context.Context, spec ContainerSpec) (Result, error)
}

// ImageIDResolver exposes image ID resolution for Docker-backed runners.
type ImageIDResolver interface {
	ResolveImageID(ctx context.Context, imageRef string) (string, error)
}

type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	WorkDir string
	User    string
	Env     map[string]string
	Mounts  []Mount
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type Result struct {
	ExitCode int
	Output   string
}

var ErrImageRefNotFound = errors.New("image_ref_not_found")

// ExitError is returned when the container ran but exited non-zero.
type ExitError struct {
	Name     string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return "container " + e.Name + " exited with code " + itoa(e.ExitCode) + ": " + tail(e.Output, 2048)
}
