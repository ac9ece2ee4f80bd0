// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
)

// EngineType identifies a container engine implementation.
type EngineType string

const (
	EngineTypeDocker EngineType = "docker"
	EngineTypePodman EngineType = "podman"
)

type (
	// Engine is the surface the container runtime needs from a CLI engine.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks whether the engine binary is usable.
		Available() bool
		// ExecCommand builds the subprocess that runs shellCommand inside the
		// named container via `sh -c`.
		ExecCommand(ctx context.Context, containerName, shellCommand string) *exec.Cmd
		// InteractiveCommand builds the subprocess for a TTY-attached shell in
		// the named container, started in workDir.
		InteractiveCommand(ctx context.Context, containerName, workDir string) *exec.Cmd
		// StartDetached starts a long-lived container.
		StartDetached(ctx context.Context, opts StartOptions) error
		// Remove removes a container.
		Remove(ctx context.Context, containerName string, force bool) error
		// Exists reports whether a container with the name exists at all.
		Exists(ctx context.Context, containerName string) (bool, error)
		// Running reports whether the named container is currently running.
		Running(ctx context.Context, containerName string) (bool, error)
	}

	// StartOptions configures StartDetached.
	StartOptions struct {
		Image string
		Name  string
		// Command keeps the container alive (e.g. sleep infinity).
		Command []string
		Env     map[string]string
	}

	// ErrEngineNotAvailable is returned when no usable engine binary is found.
	ErrEngineNotAvailable struct {
		Engine string
		Reason string
	}
)

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine creates the preferred engine, falling back to the other CLI when
// the preferred one is not installed.
func NewEngine(preferred EngineType) (Engine, error) {
	switch preferred {
	case EngineTypePodman:
		if e := NewPodmanEngine(); e.Available() {
			return e, nil
		}
		if e := NewDockerEngine(); e.Available() {
			return e, nil
		}
		return nil, &ErrEngineNotAvailable{Engine: "podman", Reason: "podman not found and docker fallback unavailable"}
	case EngineTypeDocker, "":
		if e := NewDockerEngine(); e.Available() {
			return e, nil
		}
		if e := NewPodmanEngine(); e.Available() {
			return e, nil
		}
		return nil, &ErrEngineNotAvailable{Engine: "docker", Reason: "docker not found and podman fallback unavailable"}
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}
}

// AutoDetectEngine finds any available engine, preferring docker.
func AutoDetectEngine() (Engine, error) {
	if e := NewDockerEngine(); e.Available() {
		return e, nil
	}
	if e := NewPodmanEngine(); e.Available() {
		return e, nil
	}
	return nil, &ErrEngineNotAvailable{Engine: "any", Reason: "neither docker nor podman is available on this system"}
}
