// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package provision

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// localTarget executes provisioning commands on the local host, standing in
// for a remote or container target.
type localTarget struct{}

func (localTarget) Exec(ctx context.Context, command string, opts ExecOpts) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func (localTarget) WriteFile(_ context.Context, path string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, data)
	return err
}

// recordingLogger captures the InitLogger call sequence.
type recordingLogger struct {
	steps    []string
	stderr   []string
	complete []int
}

func (l *recordingLogger) Step(name string)   { l.steps = append(l.steps, name) }
func (l *recordingLogger) Stderr(line string) { l.stderr = append(l.stderr, line) }
func (l *recordingLogger) Complete(code int)  { l.complete = append(l.complete, code) }

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %v: %v", args, err)
	}
	return strings.TrimSpace(string(out))
}

// newSourceRepo creates a committed repository with trunk branch "main".
func newSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "initial")
	runGit(t, dir, "branch", "-M", "main")
	return dir
}

func TestSyncClonesAndChecksOutBranch(t *testing.T) {
	t.Parallel()
	requireGit(t)

	src := newSourceRepo(t)
	scratch := t.TempDir()
	ws := filepath.Join(scratch, "ws")
	if err := os.Mkdir(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	logger := &recordingLogger{}

	err := Sync(context.Background(), localTarget{}, Params{
		ProjectPath:   src,
		WorkspacePath: ws,
		TempDir:       scratch,
		Branch:        "feature",
		Trunk:         "main",
		RuntimeKind:   "test",
		Log:           logger,
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(ws, "README.md")); statErr != nil {
		t.Errorf("workspace is missing the synced file: %v", statErr)
	}
	if branch := gitOutput(t, ws, "rev-parse", "--abbrev-ref", "HEAD"); branch != "feature" {
		t.Errorf("checked-out branch = %q, want feature", branch)
	}
	if len(logger.complete) != 1 || logger.complete[0] != 0 {
		t.Errorf("Complete calls = %v, want exactly one 0", logger.complete)
	}
	if len(logger.steps) == 0 {
		t.Error("no steps were reported")
	}
}

func TestSyncRunsInitHook(t *testing.T) {
	t.Parallel()
	requireGit(t)

	src := newSourceRepo(t)
	hookDir := filepath.Join(src, ".mux", "hooks")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	hook := "#!/bin/sh\necho \"$MUX_RUNTIME $MUX_BRANCH $MUX_TRUNK\" > hookran\n"
	if err := os.WriteFile(filepath.Join(hookDir, "init"), []byte(hook), 0o755); err != nil {
		t.Fatal(err)
	}
	runGit(t, src, "add", ".")
	runGit(t, src, "commit", "-q", "-m", "add init hook")

	scratch := t.TempDir()
	ws := filepath.Join(scratch, "ws")
	if err := os.Mkdir(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	err := Sync(context.Background(), localTarget{}, Params{
		ProjectPath:   src,
		WorkspacePath: ws,
		TempDir:       scratch,
		Branch:        "feature",
		Trunk:         "main",
		RuntimeKind:   "container",
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws, "hookran"))
	if err != nil {
		t.Fatalf("init hook did not run: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "container feature main" {
		t.Errorf("hook environment = %q, want %q", got, "container feature main")
	}
}

func TestSyncBundleFailureIsTagged(t *testing.T) {
	t.Parallel()
	requireGit(t)

	logger := &recordingLogger{}
	err := Sync(context.Background(), localTarget{}, Params{
		ProjectPath:   t.TempDir(), // not a git repository
		WorkspacePath: filepath.Join(t.TempDir(), "ws"),
		Log:           logger,
	})
	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("error = %v, want a PhaseError", err)
	}
	if phaseErr.Phase != PhaseBundle {
		t.Errorf("Phase = %q, want bundle", phaseErr.Phase)
	}
	if len(logger.complete) != 1 || logger.complete[0] != 1 {
		t.Errorf("Complete calls = %v, want exactly one 1", logger.complete)
	}
}

func TestInitInPlaceWithoutHookOrBranchIsNoop(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ws := newSourceRepo(t)
	logger := &recordingLogger{}
	err := InitInPlace(context.Background(), localTarget{}, Params{
		ProjectPath:   ws,
		WorkspacePath: ws,
		Trunk:         "main",
		Log:           logger,
	})
	if err != nil {
		t.Fatalf("InitInPlace() error = %v", err)
	}
	if len(logger.complete) != 1 || logger.complete[0] != 0 {
		t.Errorf("Complete calls = %v, want exactly one 0", logger.complete)
	}
}

func TestInitInPlaceChecksOutBranch(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ws := newSourceRepo(t)
	err := InitInPlace(context.Background(), localTarget{}, Params{
		ProjectPath:   ws,
		WorkspacePath: ws,
		Branch:        "feature",
		Trunk:         "main",
	})
	if err != nil {
		t.Fatalf("InitInPlace() error = %v", err)
	}
	if branch := gitOutput(t, ws, "rev-parse", "--abbrev-ref", "HEAD"); branch != "feature" {
		t.Errorf("checked-out branch = %q, want feature", branch)
	}
}

func TestFirstStderr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Result
		want string
	}{
		{"stderr wins", Result{ExitCode: 1, Stdout: "out", Stderr: "bad thing\nmore"}, "bad thing"},
		{"stdout fallback", Result{ExitCode: 1, Stdout: "only out"}, "only out"},
		{"exit code fallback", Result{ExitCode: 128}, "exit code 128"},
	}
	for _, tt := range tests {
		if got := firstStderr(tt.in); got != tt.want {
			t.Errorf("%s: firstStderr() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
