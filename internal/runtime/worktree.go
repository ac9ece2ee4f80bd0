// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muxrun/mux/internal/provision"
)

type (
	// WorktreeRuntime provisions workspaces as git worktrees of the project
	// repository under a local base directory. Execution is local; only the
	// lifecycle differs from LocalRuntime.
	WorktreeRuntime struct {
		*executor
		srcBaseDir string
		log        *log.Logger
	}
)

// NewWorktreeRuntime builds a worktree-backed runtime. An empty srcBaseDir
// defaults to ~/.mux/worktrees.
func NewWorktreeRuntime(srcBaseDir string, logger *log.Logger) *WorktreeRuntime {
	if srcBaseDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			srcBaseDir = filepath.Join(home, ".mux", "worktrees")
		} else {
			srcBaseDir = filepath.Join(os.TempDir(), "mux-worktrees")
		}
	}
	r := &WorktreeRuntime{srcBaseDir: srcBaseDir, log: logger}
	r.executor = newExecutor(localTransport{}, func() string { return srcBaseDir }, logger)
	return r
}

func (r *WorktreeRuntime) Kind() Kind { return KindWorktree }

// WorkspacePath nests worktrees by project name under the base dir.
func (r *WorktreeRuntime) WorkspacePath(projectPath, workspaceName string) string {
	return filepath.Join(r.srcBaseDir, filepath.Base(projectPath), workspaceName)
}

// CreateWorkspace adds a detached worktree; the branch is checked out during
// InitWorkspace so create/init failure phases stay separable.
func (r *WorktreeRuntime) CreateWorkspace(ctx context.Context, p CreateParams) *CreateResult {
	if err := ValidateWorkspaceName(p.WorkspaceName); err != nil {
		return createFailure("%v", err)
	}
	ws := r.WorkspacePath(p.ProjectPath, p.WorkspaceName)
	if _, err := os.Stat(ws); err == nil {
		return createFailure("Workspace already exists: %s", ws)
	}
	if err := os.MkdirAll(filepath.Dir(ws), 0o755); err != nil {
		return createFailure("creating workspace parent dir: %v", err)
	}

	out, err := r.Run(ctx, "git -C "+ShellQuote(p.ProjectPath)+" worktree add --detach "+ShellQuote(ws), ExecOptions{Cwd: p.ProjectPath})
	if err != nil {
		return createFailure("adding worktree: %v", err)
	}
	if out.ExitCode != 0 {
		return createFailure("adding worktree: %s", strings.TrimSpace(out.Stderr))
	}

	return &CreateResult{OK: true, WorkspacePath: ws, WorkspaceID: uuid.NewString()}
}

// InitWorkspace checks out the branch (no sync needed: a worktree already
// shares the repository) and runs the init hook.
func (r *WorktreeRuntime) InitWorkspace(ctx context.Context, p InitParams) *InitResult {
	err := provision.InitInPlace(ctx, targetFor(r), provision.Params{
		ProjectPath:   p.ProjectPath,
		WorkspacePath: p.WorkspacePath,
		Branch:        p.Branch,
		Trunk:         p.Trunk,
		RuntimeKind:   string(KindWorktree),
		Log:           p.Log,
	})
	return initResultFrom(err)
}

// RenameWorkspace moves the worktree through git so its bookkeeping follows.
func (r *WorktreeRuntime) RenameWorkspace(ctx context.Context, p RenameParams) *LifecycleResult {
	if err := ValidateWorkspaceName(p.NewName); err != nil {
		return refusal("%v", err)
	}
	oldPath := r.WorkspacePath(p.ProjectPath, p.OldName)
	newPath := r.WorkspacePath(p.ProjectPath, p.NewName)
	if _, err := os.Stat(newPath); err == nil {
		return refusal("workspace %s already exists", p.NewName)
	}

	out, err := r.Run(ctx, "git -C "+ShellQuote(p.ProjectPath)+" worktree move "+ShellQuote(oldPath)+" "+ShellQuote(newPath), ExecOptions{Cwd: p.ProjectPath})
	if err != nil {
		return refusal("moving worktree: %v", err)
	}
	if out.ExitCode != 0 {
		return refusal("moving worktree: %s", strings.TrimSpace(out.Stderr))
	}
	return &LifecycleResult{OK: true}
}

// DeleteWorkspace removes the worktree. Idempotent; refuses on uncommitted or
// unpushed work unless forced.
func (r *WorktreeRuntime) DeleteWorkspace(ctx context.Context, p DeleteParams) *LifecycleResult {
	ws := r.WorkspacePath(p.ProjectPath, p.WorkspaceName)
	if _, err := os.Stat(ws); err != nil {
		return &LifecycleResult{OK: true}
	}

	if !p.Force {
		if res := guardCleanWorkspace(ctx, r, ws); res != nil {
			return res
		}
	}

	out, err := r.Run(ctx, "git -C "+ShellQuote(p.ProjectPath)+" worktree remove --force "+ShellQuote(ws), ExecOptions{Cwd: p.ProjectPath})
	if err != nil {
		return refusal("removing worktree: %v", err)
	}
	if out.ExitCode != 0 {
		return refusal("removing worktree: %s", strings.TrimSpace(out.Stderr))
	}
	return &LifecycleResult{OK: true}
}

// ForkWorkspace adds a new worktree branched from the source workspace's
// current HEAD.
func (r *WorktreeRuntime) ForkWorkspace(ctx context.Context, p ForkParams) *CreateResult {
	if err := ValidateWorkspaceName(p.NewName); err != nil {
		return createFailure("%v", err)
	}
	src := r.WorkspacePath(p.ProjectPath, p.SourceName)
	dst := r.WorkspacePath(p.ProjectPath, p.NewName)
	if _, err := os.Stat(dst); err == nil {
		return createFailure("Workspace already exists: %s", dst)
	}

	head, err := r.Run(ctx, "git rev-parse HEAD", ExecOptions{Cwd: src})
	if err != nil {
		return createFailure("resolving source workspace HEAD: %v", err)
	}
	if head.ExitCode != 0 {
		return createFailure("resolving source workspace HEAD: %s", strings.TrimSpace(head.Stderr))
	}
	start := strings.TrimSpace(head.Stdout)

	branch := p.Branch
	if branch == "" {
		branch = p.NewName
	}

	out, err := r.Run(ctx, "git -C "+ShellQuote(p.ProjectPath)+" worktree add -b "+ShellQuote(branch)+" "+ShellQuote(dst)+" "+ShellQuote(start), ExecOptions{Cwd: p.ProjectPath})
	if err != nil {
		return createFailure("forking worktree: %v", err)
	}
	if out.ExitCode != 0 {
		return createFailure("forking worktree: %s", strings.TrimSpace(out.Stderr))
	}

	return &CreateResult{OK: true, WorkspacePath: dst, WorkspaceID: uuid.NewString()}
}

// CreatePtySession starts the user's shell inside the worktree.
func (r *WorktreeRuntime) CreatePtySession(_ context.Context, p PtyParams) (PtySession, error) {
	cmd := exec.Command(userShell())
	cmd.Dir = p.WorkspacePath
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	return startLocalPty(cmd, p.Cols, p.Rows)
}
