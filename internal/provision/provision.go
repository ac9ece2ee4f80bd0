// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"
)

// InitHookPath is the fixed workspace-relative path of the optional init hook.
const InitHookPath = ".mux/hooks/init"

// Provisioning phases, reported separately so callers can retry a single
// failed phase.
const (
	PhaseBundle   Phase = "bundle"
	PhaseTransfer Phase = "transfer"
	PhaseClone    Phase = "clone"
	PhaseCheckout Phase = "checkout"
	PhaseHook     Phase = "hook"
)

const hookTimeout = 10 * time.Minute

type (
	// Phase names one provisioning phase.
	Phase string

	// PhaseError tags a failure with the phase it occurred in.
	PhaseError struct {
		Phase Phase
		Err   error
	}

	// ExecOpts mirrors the runtime exec options the provisioner needs.
	ExecOpts struct {
		Cwd     string
		Env     map[string]string
		Timeout time.Duration
	}

	// Result is a captured command outcome.
	Result struct {
		ExitCode int
		Stdout   string
		Stderr   string
	}

	// Target is the minimal surface provisioning needs from a runtime. The
	// runtime package adapts its concrete runtimes onto this; provisioning
	// never spawns against the target except through it.
	Target interface {
		Exec(ctx context.Context, command string, opts ExecOpts) (Result, error)
		WriteFile(ctx context.Context, path string, data io.Reader) error
	}

	// Params drives one initialization run.
	Params struct {
		// ProjectPath is the local source repository to sync from.
		ProjectPath string
		// WorkspacePath is the workspace directory inside the target.
		WorkspacePath string
		// TempDir is the target-side scratch area for the bundle handoff.
		// Defaults to /tmp.
		TempDir string
		// Branch is checked out, created from Trunk when it does not exist.
		Branch string
		// Trunk is the branch new branches are created from.
		Trunk string
		// RuntimeKind is exported to the init hook as MUX_RUNTIME.
		RuntimeKind string
		// Log receives progress. Defaults to NopLogger.
		Log InitLogger
	}
)

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Sync performs the full git-bundle handoff into a remote or container
// target: bundle all refs locally, transfer the bundle, clone from it inside
// the target, check out the requested branch, and run the init hook.
// Initialization stops at the first failing phase. The workspace directory
// must already exist on the target (CreateWorkspace runs first) and be empty.
func Sync(ctx context.Context, t Target, p Params) (err error) {
	if p.Log == nil {
		p.Log = NopLogger{}
	}
	defer func() { p.Log.Complete(completionCode(err)) }()

	p.Log.Step("bundling repository")
	localBundle, cleanup, err := createLocalBundle(ctx, p.ProjectPath)
	if err != nil {
		return &PhaseError{Phase: PhaseBundle, Err: err}
	}
	defer cleanup()

	tempDir := p.TempDir
	if tempDir == "" {
		tempDir = "/tmp"
	}
	remoteBundle := path.Join(tempDir, "mux-"+uuid.NewString()+".bundle")

	p.Log.Step("transferring bundle")
	f, err := os.Open(localBundle)
	if err != nil {
		return &PhaseError{Phase: PhaseTransfer, Err: err}
	}
	err = t.WriteFile(ctx, remoteBundle, f)
	_ = f.Close()
	if err != nil {
		return &PhaseError{Phase: PhaseTransfer, Err: err}
	}

	p.Log.Step("unpacking bundle")
	// Clone into "." from inside the (already created, empty) workspace so
	// the destination never depends on how the target resolves relative
	// paths; the bundle path is absolute under the temp dir.
	out, err := t.Exec(ctx, "git clone -q "+quote(remoteBundle)+" .", ExecOpts{Cwd: p.WorkspacePath})
	if err != nil {
		return &PhaseError{Phase: PhaseClone, Err: err}
	}
	// Scratch bundle is no longer needed whether or not the clone worked.
	_, _ = t.Exec(ctx, "rm -f "+quote(remoteBundle), ExecOpts{Cwd: p.WorkspacePath})
	if out.ExitCode != 0 {
		return &PhaseError{Phase: PhaseClone, Err: fmt.Errorf("git clone: %s", firstStderr(out))}
	}

	if err := checkout(ctx, t, p); err != nil {
		return err
	}
	return runInitHook(ctx, t, p)
}

// InitInPlace initializes a workspace that is already a checkout (worktree or
// local backends): branch checkout when requested, then the init hook.
func InitInPlace(ctx context.Context, t Target, p Params) (err error) {
	if p.Log == nil {
		p.Log = NopLogger{}
	}
	defer func() { p.Log.Complete(completionCode(err)) }()

	if p.Branch != "" {
		if err := checkout(ctx, t, p); err != nil {
			return err
		}
	}
	return runInitHook(ctx, t, p)
}

// checkout switches the workspace to the requested branch, creating it from
// the trunk branch when it does not exist yet.
func checkout(ctx context.Context, t Target, p Params) error {
	if p.Branch == "" {
		return nil
	}
	p.Log.Step("checking out " + p.Branch)
	cmd := fmt.Sprintf("git checkout -q %s 2>/dev/null || git checkout -q -b %s %s",
		quote(p.Branch), quote(p.Branch), quote(p.Trunk))
	out, err := t.Exec(ctx, cmd, ExecOpts{Cwd: p.WorkspacePath})
	if err != nil {
		return &PhaseError{Phase: PhaseCheckout, Err: err}
	}
	if out.ExitCode != 0 {
		return &PhaseError{Phase: PhaseCheckout, Err: fmt.Errorf("git checkout %s: %s", p.Branch, firstStderr(out))}
	}
	return nil
}

// runInitHook executes the optional project init hook inside the workspace
// with a small fixed environment describing the runtime kind and branch.
func runInitHook(ctx context.Context, t Target, p Params) error {
	probe, err := t.Exec(ctx, "test -x "+quote(InitHookPath), ExecOpts{Cwd: p.WorkspacePath})
	if err != nil {
		return &PhaseError{Phase: PhaseHook, Err: err}
	}
	if probe.ExitCode != 0 {
		return nil // no hook configured
	}

	p.Log.Step("running init hook")
	out, err := t.Exec(ctx, "./"+InitHookPath, ExecOpts{
		Cwd:     p.WorkspacePath,
		Timeout: hookTimeout,
		Env: map[string]string{
			"MUX_RUNTIME":   p.RuntimeKind,
			"MUX_BRANCH":    p.Branch,
			"MUX_TRUNK":     p.Trunk,
			"MUX_WORKSPACE": p.WorkspacePath,
		},
	})
	if err != nil {
		return &PhaseError{Phase: PhaseHook, Err: err}
	}
	for _, line := range strings.Split(strings.TrimRight(out.Stderr, "\n"), "\n") {
		if line != "" {
			p.Log.Stderr(line)
		}
	}
	if out.ExitCode != 0 {
		return &PhaseError{Phase: PhaseHook, Err: fmt.Errorf("init hook exited with code %d", out.ExitCode)}
	}
	return nil
}

// createLocalBundle bundles all refs of the source repository into a local
// temp file. This always runs on the local host regardless of backend.
func createLocalBundle(ctx context.Context, projectPath string) (string, func(), error) {
	bundlePath := filepath.Join(os.TempDir(), "mux-"+uuid.NewString()+".bundle")
	cleanup := func() { _ = os.Remove(bundlePath) }

	cmd := exec.CommandContext(ctx, "git", "-C", projectPath, "bundle", "create", bundlePath, "--all")
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("git bundle create: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return bundlePath, cleanup, nil
}

func completionCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func firstStderr(r Result) string {
	s := strings.TrimSpace(r.Stderr)
	if s == "" {
		s = strings.TrimSpace(r.Stdout)
	}
	if s == "" {
		return fmt.Sprintf("exit code %d", r.ExitCode)
	}
	if i := strings.IndexByte(s, '\n'); i > 0 {
		s = s[:i]
	}
	return s
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}
