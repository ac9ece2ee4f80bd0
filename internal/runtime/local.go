// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/muxrun/mux/internal/provision"
)

type (
	// localTransport spawns commands directly through the system shell.
	localTransport struct{}

	// LocalRuntime executes against the project directory itself. The caller's
	// checkout is the workspace, so lifecycle verbs that would move or destroy
	// it are policy refusals rather than filesystem operations.
	LocalRuntime struct {
		*executor
		log *log.Logger
	}
)

// NewLocalRuntime builds a runtime that runs commands in-place.
func NewLocalRuntime(logger *log.Logger) *LocalRuntime {
	r := &LocalRuntime{log: logger}
	r.executor = newExecutor(localTransport{}, func() string { return "" }, logger)
	return r
}

func (localTransport) Spawn(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", fullCommand)
	return startCmdProcess(ctx, cmd, opts)
}

// startCmdProcess wires an exec.Cmd into the uniform Process shape. Shared by
// the local and container transports (both spawn local subprocesses).
func startCmdProcess(ctx context.Context, cmd *exec.Cmd, opts SpawnOptions) (*Process, error) {
	var stdin io.WriteCloser
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	} else {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdin = pipe
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	// The command becomes a process-group leader so a timeout kill reaches
	// its descendants, not just the top-level shell.
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return exitErr.ExitCode(), nil
			}
			return -1, err
		}
		return 0, nil
	}
	kill := func() error {
		return killProcessGroup(cmd)
	}
	return NewProcess(stdin, stdout, stderr, wait, kill), nil
}

func (r *LocalRuntime) Kind() Kind { return KindLocal }

// WorkspacePath for the local backend is the project directory itself.
func (r *LocalRuntime) WorkspacePath(projectPath, _ string) string {
	return projectPath
}

// CreateWorkspace validates the project directory and hands it back as the
// workspace. Nothing is provisioned.
func (r *LocalRuntime) CreateWorkspace(_ context.Context, p CreateParams) *CreateResult {
	info, err := os.Stat(p.ProjectPath)
	if err != nil {
		return createFailure("project path %s: %v", p.ProjectPath, err)
	}
	if !info.IsDir() {
		return createFailure("project path %s is not a directory", p.ProjectPath)
	}
	return &CreateResult{
		OK:            true,
		WorkspacePath: p.ProjectPath,
		WorkspaceID:   uuid.NewString(),
	}
}

// InitWorkspace runs only the init hook: the local workspace already is a
// checkout, so there is nothing to sync or check out.
func (r *LocalRuntime) InitWorkspace(ctx context.Context, p InitParams) *InitResult {
	err := provision.InitInPlace(ctx, targetFor(r), provision.Params{
		ProjectPath:   p.ProjectPath,
		WorkspacePath: p.WorkspacePath,
		Branch:        "",
		Trunk:         p.Trunk,
		RuntimeKind:   string(KindLocal),
		Log:           p.Log,
	})
	return initResultFrom(err)
}

func (r *LocalRuntime) RenameWorkspace(_ context.Context, _ RenameParams) *LifecycleResult {
	return refusal("rename is not supported for the local runtime: the workspace is the project directory")
}

func (r *LocalRuntime) DeleteWorkspace(_ context.Context, _ DeleteParams) *LifecycleResult {
	return refusal("delete is not supported for the local runtime: the workspace is the project directory")
}

func (r *LocalRuntime) ForkWorkspace(_ context.Context, _ ForkParams) *CreateResult {
	return createFailure("fork is not supported for the local runtime")
}

// CreatePtySession starts the user's shell at the workspace path.
func (r *LocalRuntime) CreatePtySession(_ context.Context, p PtyParams) (PtySession, error) {
	cmd := exec.Command(userShell())
	cmd.Dir = p.WorkspacePath
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	return startLocalPty(cmd, p.Cols, p.Rows)
}

// userShell returns $SHELL or a POSIX fallback.
func userShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "sh"
}

// targetFor adapts a Runtime into the provisioning package's Target interface.
func targetFor(rt Runtime) provision.Target {
	return &execTarget{rt: rt}
}

type execTarget struct{ rt Runtime }

func (t *execTarget) Exec(ctx context.Context, command string, o provision.ExecOpts) (provision.Result, error) {
	out, err := t.rt.Run(ctx, command, ExecOptions{Cwd: o.Cwd, Env: o.Env, Timeout: o.Timeout})
	if err != nil {
		return provision.Result{}, err
	}
	return provision.Result{ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr}, nil
}

func (t *execTarget) WriteFile(ctx context.Context, path string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	return t.rt.WriteFile(ctx, path, buf)
}

// initResultFrom maps a provisioning error (possibly phase-tagged) onto the
// discriminated init result.
func initResultFrom(err error) *InitResult {
	if err == nil {
		return &InitResult{OK: true}
	}
	var phaseErr *provision.PhaseError
	if errors.As(err, &phaseErr) {
		return &InitResult{Phase: string(phaseErr.Phase), Error: phaseErr.Err.Error()}
	}
	return &InitResult{Error: fmt.Sprintf("%v", err)}
}
