// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestLocalRunEcho(t *testing.T) {
	t.Parallel()

	rt := NewLocalRuntime(nil)
	out, err := rt.Run(context.Background(), "echo hello", ExecOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", out.ExitCode)
	}
	if out.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want hello\\n", out.Stdout)
	}
}

func TestLocalRunNonZeroExitIsNotError(t *testing.T) {
	t.Parallel()

	rt := NewLocalRuntime(nil)
	out, err := rt.Run(context.Background(), "exit 3", ExecOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v, non-zero exits must be results", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
}

func TestLocalRunHonorsCwdAndEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt := NewLocalRuntime(nil)
	out, err := rt.Run(context.Background(), "pwd && echo \"$MUX_TEST_VAR\"", ExecOptions{
		Cwd: dir,
		Env: map[string]string{"MUX_TEST_VAR": "wired"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.Stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines, got %q", out.Stdout)
	}
	if resolved, _ := filepath.EvalSymlinks(dir); lines[0] != dir && lines[0] != resolved {
		t.Errorf("pwd = %q, want %q", lines[0], dir)
	}
	if lines[1] != "wired" {
		t.Errorf("env var = %q, want wired", lines[1])
	}
}

func TestLocalRunLargeOutputCapturedFully(t *testing.T) {
	t.Parallel()

	// Well past the kernel pipe buffer, so output still in flight when the
	// process exits must not be dropped.
	const lines = 20000
	line := strings.Repeat("x", 61)
	cmd := fmt.Sprintf("i=0; while [ $i -lt %d ]; do echo %s; i=$((i+1)); done", lines, line)

	rt := NewLocalRuntime(nil)
	out, err := rt.Run(context.Background(), cmd, ExecOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr %q", out.ExitCode, out.Stderr)
	}
	if want := lines * (len(line) + 1); len(out.Stdout) != want {
		t.Errorf("captured %d bytes, want %d (output was truncated)", len(out.Stdout), want)
	}
}

func TestLocalRunTimeout(t *testing.T) {
	t.Parallel()

	rt := NewLocalRuntime(nil)
	start := time.Now()
	out, err := rt.Run(context.Background(), "sleep 10", ExecOptions{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run() took %s, timeout did not kill the process", elapsed)
	}
	if !out.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if out.ExitCode != timeoutExitCode {
		t.Errorf("ExitCode = %d, want %d", out.ExitCode, timeoutExitCode)
	}
	if !strings.Contains(out.Stderr, "Command timed out after") {
		t.Errorf("stderr %q lacks the timeout sentinel", out.Stderr)
	}
}

func TestLocalRunTimeoutKillsDescendants(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	rt := NewLocalRuntime(nil)
	out, err := rt.Run(context.Background(), `sleep 30 & echo $! > "$PIDFILE"; wait`, ExecOptions{
		Env:     map[string]string{"PIDFILE": pidFile},
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("child pid was not recorded: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("pid file contents %q: %v", data, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("grandchild %d survived the timeout kill", pid)
}

func TestLocalWriteFileReadFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt := NewLocalRuntime(nil)
	target := filepath.Join(dir, "nested", "file.txt")

	if err := rt.WriteFile(context.Background(), target, []byte("v1\n")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := rt.ReadFile(context.Background(), target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "v1\n" {
		t.Errorf("ReadFile() = %q, want v1\\n", data)
	}
}

func TestLocalWriteFilePreservesSymlinkAndMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "real.sh")
	link := filepath.Join(dir, "link.sh")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	rt := NewLocalRuntime(nil)
	if err := rt.WriteFile(context.Background(), link, []byte("#!/bin/sh\necho new\n")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// The symlink must survive and the write must land in the target.
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("write through a symlink replaced the symlink itself")
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "echo new") {
		t.Errorf("target contents = %q, want the new payload", data)
	}
	targetInfo, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if targetInfo.Mode().Perm() != 0o755 {
		t.Errorf("target mode = %o, want 755 preserved", targetInfo.Mode().Perm())
	}
}

func TestLocalLifecycleRefusals(t *testing.T) {
	t.Parallel()

	rt := NewLocalRuntime(nil)
	ctx := context.Background()

	if res := rt.RenameWorkspace(ctx, RenameParams{}); res.OK || res.Error == "" {
		t.Error("rename must be refused with a message")
	}
	if res := rt.DeleteWorkspace(ctx, DeleteParams{}); res.OK || res.Error == "" {
		t.Error("delete must be refused with a message")
	}
	if res := rt.ForkWorkspace(ctx, ForkParams{}); res.OK || res.Error == "" {
		t.Error("fork must be refused with a message")
	}
}

func TestLocalCreateWorkspace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt := NewLocalRuntime(nil)

	res := rt.CreateWorkspace(context.Background(), CreateParams{ProjectPath: dir, WorkspaceName: "ws"})
	if !res.OK {
		t.Fatalf("CreateWorkspace() failed: %s", res.Error)
	}
	if res.WorkspacePath != dir {
		t.Errorf("WorkspacePath = %q, want the project dir %q", res.WorkspacePath, dir)
	}
	if res.WorkspaceID == "" {
		t.Error("WorkspaceID must be assigned")
	}

	missing := rt.CreateWorkspace(context.Background(), CreateParams{ProjectPath: filepath.Join(dir, "nope")})
	if missing.OK {
		t.Error("CreateWorkspace must fail for a missing project path")
	}
}
