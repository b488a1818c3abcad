package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

type DockerRunner struct {
	dockerBin string

	once     sync.Once
	resolved string
	lookErr  error
}

// NewDockerRunner returns a runner for dockerBin. The binary is looked up on
// first use, so commands that never start a container work without docker.
func NewDockerRunner(dockerBin string) *DockerRunner {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	return &DockerRunner{dockerBin: dockerBin}
}

func (r *DockerRunner) binary() (string, error) {
	r.once.Do(func() {
		path, err := exec.LookPath(r.dockerBin)
		if err != nil {
			r.lookErr = fmt.Errorf("docker binary not found: %w", err)
			return
		}
		r.resolved = path
	})
	return r.resolved, r.lookErr
}

func (r *DockerRunner) Kind() string {
	return "docker"
}

func (r *DockerRunner) ResolveImageID(ctx context.Context, imageRef string) (string, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return "", errors.New("image ref is required")
	}

	bin, err := r.binary()
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, bin, "image", "inspect", "--format", "{{.Id}}", imageRef)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "no such image") || strings.Contains(lower, "not found") || strings.Contains(lower, "no such object") {
			return "", fmt.Errorf("%w: %s", ErrImageRefNotFound, text)
		}
		return "", fmt.Errorf("docker image inspect failed: %w: %s", err, text)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty docker image id", ErrImageRefNotFound)
	}
	return fields[0], nil
}

// Run starts the container with --rm so nothing survives the invocation.
func (r *DockerRunner) Run(ctx context.Context, spec ContainerSpec) (Result, error) {
	args, err := runArgs(spec)
	if err != nil {
		return Result{}, err
	}
	bin, err := r.binary()
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	text := string(out)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode(), Output: text}, &ExitError{
				Name:     spec.Name,
				ExitCode: exitErr.ExitCode(),
				Output:   text,
			}
		}
		return Result{Output: text}, fmt.Errorf("docker run failed: %w: %s", err, tail(text, 512))
	}
	return Result{ExitCode: 0, Output: text}, nil
}

func runArgs(spec ContainerSpec) ([]string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("docker container name is required")
	}
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		return nil, errors.New("image ref is required")
	}
	if len(spec.Command) == 0 {
		return nil, errors.New("command is required")
	}

	args := []string{"run", "--rm", "--name", name}
	for _, m := range spec.Mounts {
		if strings.TrimSpace(m.Source) == "" || strings.TrimSpace(m.Target) == "" {
			return nil, fmt.Errorf("mount requires source and target: %+v", m)
		}
		opt := "delegated"
		if m.ReadOnly {
			opt = "ro"
		}
		args = append(args, "-v", m.Source+":"+m.Target+":"+opt)
	}
	if wd := strings.TrimSpace(spec.WorkDir); wd != "" {
		args = append(args, "-w", wd)
	}
	if user := strings.TrimSpace(spec.User); user != "" {
		args = append(args, "-u", user)
	}
	for _, key := range sortedEnvKeys(spec.Env) {
		args = append(args, "-e", strings.TrimSpace(key)+"="+spec.Env[key])
	}
	args = append(args, image)
	args = append(args, spec.Command...)
	return args, nil
}
