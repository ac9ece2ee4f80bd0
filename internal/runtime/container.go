// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muxrun/mux/internal/container"
	"github.com/muxrun/mux/internal/provision"
)

// containerSrcDir is the fixed in-container source directory. Every container
// workspace lives here regardless of project.
const containerSrcDir = "/src"

type (
	// ContainerRuntime executes inside one named workspace container via the
	// engine CLI. Each exec is a fresh subprocess; there is nothing to pool.
	ContainerRuntime struct {
		*executor
		cfg    Config
		engine container.Engine
		name   string
		log    *log.Logger
	}

	containerTransport struct {
		rt *ContainerRuntime
	}
)

// NewContainerRuntime builds a runtime bound to cfg's container (or to the
// container CreateWorkspace will derive).
func NewContainerRuntime(cfg Config, engine container.Engine, logger *log.Logger) *ContainerRuntime {
	r := &ContainerRuntime{
		cfg:    cfg,
		engine: engine,
		name:   cfg.ContainerName,
		log:    logger,
	}
	r.executor = newExecutor(containerTransport{rt: r}, func() string { return containerSrcDir }, logger)
	return r
}

func (t containerTransport) Spawn(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error) {
	if t.rt.name == "" {
		return nil, fmt.Errorf("no container bound: create the workspace first")
	}
	cmd := t.rt.engine.ExecCommand(ctx, t.rt.name, fullCommand)
	return startCmdProcess(ctx, cmd, opts)
}

func (r *ContainerRuntime) Kind() Kind { return KindContainer }

// WorkspacePath is the fixed in-container source directory.
func (r *ContainerRuntime) WorkspacePath(_, _ string) string {
	return containerSrcDir
}

// CreateWorkspace starts a long-lived container for the workspace and creates
// the source directory. Creation is all-or-nothing: any failure after the
// container starts force-removes it before returning.
func (r *ContainerRuntime) CreateWorkspace(ctx context.Context, p CreateParams) *CreateResult {
	if err := ValidateWorkspaceName(p.WorkspaceName); err != nil {
		return createFailure("%v", err)
	}
	name := r.cfg.ContainerName
	if name == "" {
		name = container.WorkspaceContainerName(p.ProjectPath, p.WorkspaceName)
	}

	exists, err := r.engine.Exists(ctx, name)
	if err != nil {
		return createFailure("checking container %s: %v", name, err)
	}
	if exists {
		running, runErr := r.engine.Running(ctx, name)
		if runErr != nil {
			return createFailure("checking container %s: %v", name, runErr)
		}
		state := "exists (stopped)"
		if running {
			state = "is running"
		}
		return createFailure("Workspace already exists: container %s %s", name, state)
	}

	err = r.engine.StartDetached(ctx, container.StartOptions{
		Image:   r.cfg.Image,
		Name:    name,
		Command: []string{"sleep", "infinity"},
	})
	if err != nil {
		return createFailure("starting container %s: %v", name, err)
	}
	r.name = name

	// The container may take a moment to accept execs after run -d returns.
	// Cwd is pinned to / here: the default working directory is the source
	// dir, which this very command is about to create.
	err = container.RetryWithBackoff(ctx, 5, 200*time.Millisecond, func(int) (bool, error) {
		out, runErr := r.Run(ctx, "mkdir -p "+ShellQuote(containerSrcDir), ExecOptions{Cwd: "/", Timeout: 30 * time.Second})
		if runErr != nil {
			return true, runErr
		}
		if out.ExitCode != 0 {
			return true, fmt.Errorf("mkdir %s: %s", containerSrcDir, strings.TrimSpace(out.Stderr))
		}
		return false, nil
	})
	if err != nil {
		_ = r.engine.Remove(ctx, name, true)
		r.name = ""
		return createFailure("preparing container %s: %v", name, err)
	}

	return &CreateResult{
		OK:            true,
		WorkspacePath: containerSrcDir,
		WorkspaceID:   uuid.NewString(),
		ContainerName: name,
	}
}

// InitWorkspace syncs the project into the container via the git bundle
// handoff, then checks out the branch and runs the init hook.
func (r *ContainerRuntime) InitWorkspace(ctx context.Context, p InitParams) *InitResult {
	err := provision.Sync(ctx, targetFor(r), provision.Params{
		ProjectPath:   p.ProjectPath,
		WorkspacePath: p.WorkspacePath,
		TempDir:       "/tmp",
		Branch:        p.Branch,
		Trunk:         p.Trunk,
		RuntimeKind:   string(KindContainer),
		Log:           p.Log,
	})
	return initResultFrom(err)
}

// RenameWorkspace is not supported: renaming a live container safely would
// require a stop/commit/rerun cycle that loses runtime state.
func (r *ContainerRuntime) RenameWorkspace(_ context.Context, _ RenameParams) *LifecycleResult {
	return refusal("rename is not supported for the container runtime")
}

// DeleteWorkspace removes the workspace container. Idempotent: a missing
// container reports success. Without Force, deletion is refused while the
// workspace has uncommitted changes or unpushed commits.
func (r *ContainerRuntime) DeleteWorkspace(ctx context.Context, p DeleteParams) *LifecycleResult {
	name := r.name
	if name == "" {
		name = container.WorkspaceContainerName(p.ProjectPath, p.WorkspaceName)
	}

	exists, err := r.engine.Exists(ctx, name)
	if err != nil {
		return refusal("checking container %s: %v", name, err)
	}
	if !exists {
		return &LifecycleResult{OK: true}
	}

	running, err := r.engine.Running(ctx, name)
	if err != nil {
		return refusal("checking container %s: %v", name, err)
	}
	if !p.Force && running {
		r.name = name
		if res := guardCleanWorkspace(ctx, r, containerSrcDir); res != nil {
			return res
		}
	}

	if err := r.engine.Remove(ctx, name, true); err != nil {
		return refusal("removing container %s: %v", name, err)
	}
	return &LifecycleResult{OK: true}
}

// ForkWorkspace is not supported: a container workspace has no cheap
// copy-on-write clone path.
func (r *ContainerRuntime) ForkWorkspace(_ context.Context, _ ForkParams) *CreateResult {
	return createFailure("fork is not supported for the container runtime")
}

// CreatePtySession attaches a local PTY to a TTY exec in the container.
func (r *ContainerRuntime) CreatePtySession(ctx context.Context, p PtyParams) (PtySession, error) {
	if r.name == "" {
		return nil, fmt.Errorf("no container bound: create the workspace first")
	}
	cmd := r.engine.InteractiveCommand(ctx, r.name, p.WorkspacePath)
	return startLocalPty(cmd, p.Cols, p.Rows)
}

// guardCleanWorkspace refuses deletion when the workspace directory has
// uncommitted changes or unpushed commits. The unpushed commit list is
// included so the caller can decide what to do. Returns nil when clean.
func guardCleanWorkspace(ctx context.Context, rt Runtime, dir string) *LifecycleResult {
	status, err := rt.Run(ctx, "git status --porcelain", ExecOptions{Cwd: dir})
	if err == nil && status.ExitCode == 0 && strings.TrimSpace(status.Stdout) != "" {
		return refusal("workspace has uncommitted changes; commit or use force")
	}

	unpushed, err := rt.Run(ctx, "git log --branches --not --remotes --oneline", ExecOptions{Cwd: dir})
	if err == nil && unpushed.ExitCode == 0 && strings.TrimSpace(unpushed.Stdout) != "" {
		return refusal("workspace has unpushed commits; push or use force:\n%s", strings.TrimSpace(unpushed.Stdout))
	}
	return nil
}
