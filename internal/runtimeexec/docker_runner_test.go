package runtimeexec

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestRunArgs(t *testing.T) {
	args, err := runArgs(ContainerSpec{
		Name:    "jobscraper-bundle-1",
		Image:   "public.ecr.aws/sam/build-python3.13",
		Command: []string{"bash", "-c", "true"},
		WorkDir: "/asset-input",
		User:    "1000:1000",
		Env:     map[string]string{"B": "2", "A": "1", " ": "skip"},
		Mounts: []Mount{
			{Source: "/src", Target: "/asset-input", ReadOnly: true},
			{Source: "/out", Target: "/asset-output"},
		},
	})
	if err != nil {
		t.Fatalf("runArgs() err=%v", err)
	}
	want := []string{
		"run", "--rm", "--name", "jobscraper-bundle-1",
		"-v", "/src:/asset-input:ro",
		"-v", "/out:/asset-output:delegated",
		"-w", "/asset-input",
		"-u", "1000:1000",
		"-e", "A=1",
		"-e", "B=2",
		"public.ecr.aws/sam/build-python3.13",
		"bash", "-c", "true",
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("runArgs()=%v\nwant %v", args, want)
	}
}

func TestRunArgsValidation(t *testing.T) {
	cases := []struct {
		name string
		spec ContainerSpec
	}{
		{name: "missing name", spec: ContainerSpec{Image: "img", Command: []string{"true"}}},
		{name: "missing image", spec: ContainerSpec{Name: "n", Command: []string{"true"}}},
		{name: "missing command", spec: ContainerSpec{Name: "n", Image: "img"}},
		{name: "bad mount", spec: ContainerSpec{Name: "n", Image: "img", Command: []string{"true"}, Mounts: []Mount{{Target: "/x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := runArgs(tc.spec); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestExitErrorKeepsTail(t *testing.T) {
	err := &ExitError{Name: "c", ExitCode: 1, Output: strings.Repeat("x", 5000) + "ERROR: No matching distribution found for numpy"}
	msg := err.Error()
	if !strings.Contains(msg, "No matching distribution") {
		t.Fatalf("expected tail of output in message, got %q", msg[len(msg)-80:])
	}
	if !strings.Contains(msg, "exited with code 1") {
		t.Fatalf("unexpected message prefix")
	}
}

func TestRunArgsKeepsValueOfPaddedEnvKey(t *testing.T) {
	args, err := runArgs(ContainerSpec{
		Name:    "n",
		Image:   "img",
		Command: []string{"true"},
		Env:     map[string]string{" PIP_INDEX_URL": "https://pypi.example.com/simple", "A": "1"},
	})
	if err != nil {
		t.Fatalf("runArgs() err=%v", err)
	}
	want := []string{"run", "--rm", "--name", "n", "-e", "A=1", "-e", "PIP_INDEX_URL=https://pypi.example.com/simple", "img", "true"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("runArgs()=%v\nwant %v", args, want)
	}
}

func TestDockerRunnerResolvesBinaryOnFirstUse(t *testing.T) {
	r := NewDockerRunner("/nonexistent/docker")
	if r.Kind() != "docker" {
		t.Fatalf("Kind()=%q", r.Kind())
	}
	_, err := r.Run(context.Background(), ContainerSpec{Name: "n", Image: "img", Command: []string{"true"}})
	if err == nil || !strings.Contains(err.Error(), "docker binary not found") {
		t.Fatalf("Run() err=%v, want docker binary not found", err)
	}
	if _, err := r.ResolveImageID(context.Background(), "img"); err == nil || !strings.Contains(err.Error(), "docker binary not found") {
		t.Fatalf("ResolveImageID() err=%v, want docker binary not found", err)
	}
}
