// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

type (
	// ExecCommandFunc creates the exec.Cmd for an engine invocation.
	// Injectable so tests can substitute mock binaries.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the Engine operations shared by every CLI-based
	// engine. Docker and Podman embed it and contribute only binary discovery.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}
)

// WithExecCommand injects a command constructor (used by tests).
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.execCommand = fn }
}

// NewBaseCLIEngine builds the shared engine core for a resolved binary.
func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:        name,
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *BaseCLIEngine) Name() string { return e.name }

// Available reports whether the binary was resolved at construction.
func (e *BaseCLIEngine) Available() bool { return e.binaryPath != "" }

func (e *BaseCLIEngine) ExecCommand(ctx context.Context, containerName, shellCommand string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, "exec", containerName, "sh", "-c", shellCommand)
}

func (e *BaseCLIEngine) InteractiveCommand(ctx context.Context, containerName, workDir string) *exec.Cmd {
	args := []string{"exec", "-it"}
	if workDir != "" {
		args = append(args, "-w", workDir)
	}
	args = append(args, containerName, "sh")
	return e.execCommand(ctx, e.binaryPath, args...)
}

// StartDetached starts a long-lived container. Administrative command
// failures surface the engine's stderr, never a bare exit status.
func (e *BaseCLIEngine) StartDetached(ctx context.Context, opts StartOptions) error {
	args := []string{"run", "-d", "--name", opts.Name}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return e.runAdmin(ctx, args...)
}

func (e *BaseCLIEngine) Remove(ctx context.Context, containerName string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerName)
	return e.runAdmin(ctx, args...)
}

// Exists checks container existence by name via inspect. An inspect failure
// that is not the engine's "no such container" answer is surfaced: a daemon
// that is down must never look like a clean absence.
func (e *BaseCLIEngine) Exists(ctx context.Context, containerName string) (bool, error) {
	_, err := e.inspectRunning(ctx, containerName)
	if err != nil {
		if isNoSuchContainer(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *BaseCLIEngine) Running(ctx context.Context, containerName string) (bool, error) {
	running, err := e.inspectRunning(ctx, containerName)
	if err != nil {
		if isNoSuchContainer(err) {
			return false, nil
		}
		return false, err
	}
	return running, nil
}

func (e *BaseCLIEngine) inspectRunning(ctx context.Context, containerName string) (bool, error) {
	cmd := e.execCommand(ctx, e.binaryPath, "inspect", "-f", "{{.State.Running}}", containerName)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return false, fmt.Errorf("inspect %s: %s", containerName, msg)
	}
	return strings.TrimSpace(stdout.String()) == "true", nil
}

// isNoSuchContainer matches the stderr both engines print for a missing
// container (docker: "No such object", podman: "no such container").
func isNoSuchContainer(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such object") || strings.Contains(msg, "no such container")
}

func (e *BaseCLIEngine) runAdmin(ctx context.Context, args ...string) error {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s %s: %s", e.name, args[0], msg)
	}
	return nil
}
