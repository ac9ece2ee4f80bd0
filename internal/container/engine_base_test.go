// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package container

import (
	"context"
	"os/exec"
	"reflect"
	"strings"
	"testing"
)

// captureExec records the invocation and substitutes a replacement command.
func captureExec(calls *[][]string, replacement func() *exec.Cmd) ExecCommandFunc {
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		*calls = append(*calls, append([]string{name}, arg...))
		return replacement()
	}
}

func okCmd() *exec.Cmd { return exec.Command("true") }

func TestExecCommandArgs(t *testing.T) {
	t.Parallel()

	var calls [][]string
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, okCmd)))

	e.ExecCommand(context.Background(), "mux-proj-ws", "echo hi")
	want := []string{"/usr/bin/docker", "exec", "mux-proj-ws", "sh", "-c", "echo hi"}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
}

func TestInteractiveCommandArgs(t *testing.T) {
	t.Parallel()

	var calls [][]string
	e := NewBaseCLIEngine("podman", "/usr/bin/podman", WithExecCommand(captureExec(&calls, okCmd)))

	e.InteractiveCommand(context.Background(), "mux-proj-ws", "/src")
	want := []string{"/usr/bin/podman", "exec", "-it", "-w", "/src", "mux-proj-ws", "sh"}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}

	e.InteractiveCommand(context.Background(), "mux-proj-ws", "")
	wantNoDir := []string{"/usr/bin/podman", "exec", "-it", "mux-proj-ws", "sh"}
	if !reflect.DeepEqual(calls[1], wantNoDir) {
		t.Errorf("args = %v, want %v", calls[1], wantNoDir)
	}
}

func TestStartDetachedArgs(t *testing.T) {
	t.Parallel()

	var calls [][]string
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, okCmd)))

	err := e.StartDetached(context.Background(), StartOptions{
		Image:   "debian:stable",
		Name:    "mux-proj-ws",
		Command: []string{"sleep", "infinity"},
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	if err != nil {
		t.Fatalf("StartDetached() error = %v", err)
	}
	want := []string{
		"/usr/bin/docker", "run", "-d", "--name", "mux-proj-ws",
		"-e", "A=1", "-e", "B=2",
		"debian:stable", "sleep", "infinity",
	}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
}

func TestRemoveArgs(t *testing.T) {
	t.Parallel()

	var calls [][]string
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, okCmd)))

	if err := e.Remove(context.Background(), "mux-proj-ws", true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	want := []string{"/usr/bin/docker", "rm", "-f", "mux-proj-ws"}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("args = %v, want %v", calls[0], want)
	}
}

func TestAdminFailureSurfacesStderr(t *testing.T) {
	t.Parallel()

	var calls [][]string
	boom := func() *exec.Cmd { return exec.Command("sh", "-c", "echo boom >&2; exit 1") }
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, boom)))

	err := e.Remove(context.Background(), "mux-proj-ws", false)
	if err == nil {
		t.Fatal("Remove() should fail")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should carry the engine's stderr", err)
	}
}

func TestExistsAndRunning(t *testing.T) {
	t.Parallel()

	var calls [][]string
	running := func() *exec.Cmd { return exec.Command("echo", "true") }
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, running)))

	if ok, err := e.Exists(context.Background(), "c"); !ok || err != nil {
		t.Errorf("Exists() = %v, %v for an inspectable container", ok, err)
	}
	if ok, err := e.Running(context.Background(), "c"); !ok || err != nil {
		t.Errorf("Running() = %v, %v, inspect said true", ok, err)
	}

	gone := func() *exec.Cmd { return exec.Command("sh", "-c", "echo 'Error: No such object: c' >&2; exit 1") }
	e = NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, gone)))
	if ok, err := e.Exists(context.Background(), "c"); ok || err != nil {
		t.Errorf("Exists() = %v, %v for a missing container, want false, nil", ok, err)
	}
	if ok, err := e.Running(context.Background(), "c"); ok || err != nil {
		t.Errorf("Running() = %v, %v for a missing container, want false, nil", ok, err)
	}
}

func TestExistsSurfacesDaemonFailure(t *testing.T) {
	t.Parallel()

	var calls [][]string
	down := func() *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'Cannot connect to the Docker daemon' >&2; exit 1")
	}
	e := NewBaseCLIEngine("docker", "/usr/bin/docker", WithExecCommand(captureExec(&calls, down)))

	if _, err := e.Exists(context.Background(), "c"); err == nil {
		t.Error("Exists() must surface a daemon failure, not report absence")
	} else if !strings.Contains(err.Error(), "Cannot connect") {
		t.Errorf("error %q should carry the engine's stderr", err)
	}
	if _, err := e.Running(context.Background(), "c"); err == nil {
		t.Error("Running() must surface a daemon failure")
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	if NewBaseCLIEngine("docker", "").Available() {
		t.Error("engine with no resolved binary must not be available")
	}
	if !NewBaseCLIEngine("docker", "/usr/bin/docker").Available() {
		t.Error("engine with a resolved binary must be available")
	}
}
