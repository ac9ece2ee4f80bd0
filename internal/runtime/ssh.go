// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/muxrun/mux/internal/provision"
	"github.com/muxrun/mux/internal/sshpool"
)

// defaultSSHBaseDir is the remote workspace base, resolved against $HOME on
// the server side.
const defaultSSHBaseDir = ".mux/workspaces"

type (
	// SSHRuntime executes on a remote host through the shared connection
	// pool. One session is opened per exec; the underlying TCP connection is
	// pooled and health-tracked per host.
	SSHRuntime struct {
		*executor
		cfg  Config
		pool *sshpool.Pool
		log  *log.Logger
	}

	sshTransport struct {
		pool *sshpool.Pool
		host string
		port int
	}
)

// NewSSHRuntime builds a runtime for the configured host.
func NewSSHRuntime(cfg Config, pool *sshpool.Pool, logger *log.Logger) *SSHRuntime {
	r := &SSHRuntime{cfg: cfg, pool: pool, log: logger}
	base := cfg.SrcBaseDir
	if base == "" {
		base = defaultSSHBaseDir
	}
	r.executor = newExecutor(sshTransport{pool: pool, host: cfg.Host, port: cfg.Port}, func() string { return base }, logger)
	// Home-relative paths must expand server-side; quoting the whole path
	// would defeat that.
	r.executor.cd = func(cwd string) string {
		p := r.ResolvePath(cwd)
		if path.IsAbs(p) {
			return "cd " + ShellQuote(p)
		}
		return `cd "$HOME"/` + ShellQuote(p)
	}
	return r
}

func (t sshTransport) Spawn(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error) {
	client, err := t.pool.Acquire(ctx, t.host, sshpool.AcquireOptions{Port: t.port})
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		t.pool.ReportFailure(t.host, err)
		return nil, err
	}

	var stdin io.WriteCloser
	if opts.Stdin != nil {
		sess.Stdin = opts.Stdin
	} else {
		stdin, err = sess.StdinPipe()
		if err != nil {
			_ = sess.Close()
			return nil, err
		}
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	if err := sess.Start(fullCommand); err != nil {
		t.pool.ReportFailure(t.host, err)
		_ = sess.Close()
		return nil, err
	}

	settled := make(chan struct{})
	go func() {
		// SSH sessions do not watch contexts themselves.
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			_ = sess.Close()
		case <-settled:
		}
	}()

	wait := func() (int, error) {
		err := sess.Wait()
		close(settled)
		_ = sess.Close()

		if err == nil {
			t.pool.MarkHealthy(t.host)
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// The command ran and exited; the host is healthy.
			t.pool.MarkHealthy(t.host)
			return exitErr.ExitStatus(), nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			// Session torn down without a status, e.g. killed by us.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return -1, ctxErr
			}
			return -1, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		t.pool.ReportFailure(t.host, err)
		return -1, err
	}
	kill := func() error {
		_ = sess.Signal(ssh.SIGKILL)
		return sess.Close()
	}
	return NewProcess(stdin, stdout, stderr, wait, kill), nil
}

func (r *SSHRuntime) Kind() Kind { return KindSSH }

// WorkspacePath nests workspaces under the base dir by project name. Relative
// results are $HOME-relative on the remote side.
func (r *SSHRuntime) WorkspacePath(projectPath, workspaceName string) string {
	return path.Join(r.basePath(), filepath.Base(projectPath), workspaceName)
}

// CreateWorkspace creates the remote workspace directory, refusing when it
// already exists.
func (r *SSHRuntime) CreateWorkspace(ctx context.Context, p CreateParams) *CreateResult {
	if err := ValidateWorkspaceName(p.WorkspaceName); err != nil {
		return createFailure("%v", err)
	}
	ws := r.WorkspacePath(p.ProjectPath, p.WorkspaceName)
	q := r.remoteQuote(ws)

	// Lifecycle commands pin Cwd to /: the default working directory is the
	// workspace base, which these commands create and destroy.
	out, err := r.Run(ctx, "test -e "+q, ExecOptions{Cwd: "/"})
	if err != nil {
		return createFailure("checking workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode == 0 {
		return createFailure("Workspace already exists: %s on %s", ws, r.cfg.Host)
	}

	out, err = r.Run(ctx, "mkdir -p "+q, ExecOptions{Cwd: "/"})
	if err != nil {
		return createFailure("creating workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode != 0 {
		return createFailure("creating workspace %s: %s", ws, strings.TrimSpace(out.Stderr))
	}

	return &CreateResult{OK: true, WorkspacePath: ws, WorkspaceID: uuid.NewString()}
}

// InitWorkspace syncs the project to the remote host via the git bundle
// handoff, then checks out the branch and runs the init hook.
func (r *SSHRuntime) InitWorkspace(ctx context.Context, p InitParams) *InitResult {
	err := provision.Sync(ctx, targetFor(r), provision.Params{
		ProjectPath:   p.ProjectPath,
		WorkspacePath: p.WorkspacePath,
		TempDir:       "/tmp",
		Branch:        p.Branch,
		Trunk:         p.Trunk,
		RuntimeKind:   string(KindSSH),
		Log:           p.Log,
	})
	return initResultFrom(err)
}

// RenameWorkspace moves the workspace directory.
func (r *SSHRuntime) RenameWorkspace(ctx context.Context, p RenameParams) *LifecycleResult {
	if err := ValidateWorkspaceName(p.NewName); err != nil {
		return refusal("%v", err)
	}
	oldPath := r.WorkspacePath(p.ProjectPath, p.OldName)
	newPath := r.WorkspacePath(p.ProjectPath, p.NewName)

	out, err := r.Run(ctx, "test -e "+r.remoteQuote(newPath), ExecOptions{Cwd: "/"})
	if err != nil {
		return refusal("checking workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode == 0 {
		return refusal("workspace %s already exists", p.NewName)
	}

	out, err = r.Run(ctx, "mv "+r.remoteQuote(oldPath)+" "+r.remoteQuote(newPath), ExecOptions{Cwd: "/"})
	if err != nil {
		return refusal("renaming workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode != 0 {
		return refusal("renaming workspace: %s", strings.TrimSpace(out.Stderr))
	}
	return &LifecycleResult{OK: true}
}

// DeleteWorkspace removes the remote workspace directory. Idempotent; refuses
// on uncommitted or unpushed work unless forced.
func (r *SSHRuntime) DeleteWorkspace(ctx context.Context, p DeleteParams) *LifecycleResult {
	ws := r.WorkspacePath(p.ProjectPath, p.WorkspaceName)

	out, err := r.Run(ctx, "test -e "+r.remoteQuote(ws), ExecOptions{Cwd: "/"})
	if err != nil {
		return refusal("checking workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode != 0 {
		return &LifecycleResult{OK: true}
	}

	if !p.Force {
		if res := guardCleanWorkspace(ctx, r, ws); res != nil {
			return res
		}
	}

	out, err = r.Run(ctx, "rm -rf "+r.remoteQuote(ws), ExecOptions{Cwd: "/"})
	if err != nil {
		return refusal("deleting workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode != 0 {
		return refusal("deleting workspace: %s", strings.TrimSpace(out.Stderr))
	}
	return &LifecycleResult{OK: true}
}

// ForkWorkspace clones the source workspace into a sibling directory on the
// remote host and checks out the new branch there.
func (r *SSHRuntime) ForkWorkspace(ctx context.Context, p ForkParams) *CreateResult {
	if err := ValidateWorkspaceName(p.NewName); err != nil {
		return createFailure("%v", err)
	}
	src := r.WorkspacePath(p.ProjectPath, p.SourceName)
	dst := r.WorkspacePath(p.ProjectPath, p.NewName)

	out, err := r.Run(ctx, "test -e "+r.remoteQuote(dst), ExecOptions{Cwd: "/"})
	if err != nil {
		return createFailure("checking workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode == 0 {
		return createFailure("Workspace already exists: %s on %s", dst, r.cfg.Host)
	}

	out, err = r.Run(ctx, "git clone -q "+r.remoteQuote(src)+" "+r.remoteQuote(dst), ExecOptions{Cwd: "/"})
	if err != nil {
		return createFailure("forking workspace on %s: %v", r.cfg.Host, err)
	}
	if out.ExitCode != 0 {
		return createFailure("forking workspace: %s", strings.TrimSpace(out.Stderr))
	}

	if p.Branch != "" {
		out, err = r.Run(ctx, "git checkout -q -b "+ShellQuote(p.Branch), ExecOptions{Cwd: dst})
		if err != nil || out.ExitCode != 0 {
			// All-or-nothing: do not leave a half-forked workspace behind.
			_, _ = r.Run(ctx, "rm -rf "+r.remoteQuote(dst), ExecOptions{Cwd: "/"})
			if err != nil {
				return createFailure("creating branch %s: %v", p.Branch, err)
			}
			return createFailure("creating branch %s: %s", p.Branch, strings.TrimSpace(out.Stderr))
		}
	}

	return &CreateResult{OK: true, WorkspacePath: dst, WorkspaceID: uuid.NewString()}
}

// CreatePtySession opens an interactive shell channel sized to the requested
// dimensions, starting in the workspace directory.
func (r *SSHRuntime) CreatePtySession(ctx context.Context, p PtyParams) (PtySession, error) {
	client, err := r.pool.Acquire(ctx, r.cfg.Host, sshpool.AcquireOptions{Port: r.cfg.Port})
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		r.pool.ReportFailure(r.cfg.Host, err)
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", int(p.Rows), int(p.Cols), modes); err != nil {
		_ = sess.Close()
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}

	start := fmt.Sprintf(`%s 2>/dev/null; exec ${SHELL:-/bin/sh} -l`, r.executor.cd(p.WorkspacePath))
	if err := sess.Start(start); err != nil {
		_ = sess.Close()
		return nil, err
	}

	s := &sshPtySession{
		sess:  sess,
		stdin: stdin,
		out:   make(chan []byte, 16),
		done:  make(chan int, 1),
	}
	go s.pump(stdout)
	go s.wait()
	r.pool.MarkHealthy(r.cfg.Host)
	return s, nil
}

// remoteQuote quotes a workspace path for the remote shell, preserving $HOME
// expansion for relative paths.
func (r *SSHRuntime) remoteQuote(p string) string {
	if path.IsAbs(p) {
		return ShellQuote(p)
	}
	return `"$HOME"/` + ShellQuote(p)
}

// sshPtySession is a PtySession over an SSH channel.
type sshPtySession struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	out    chan []byte
	done   chan int
	closed sync.Once
}

func (s *sshPtySession) pump(stdout io.Reader) {
	defer close(s.out)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (s *sshPtySession) wait() {
	code := 0
	if err := s.sess.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitStatus()
		} else {
			code = -1
		}
	}
	s.done <- code
	close(s.done)
}

func (s *sshPtySession) Write(data []byte) error {
	_, err := s.stdin.Write(data)
	return err
}

// Resize forwards the window change live over the channel.
func (s *sshPtySession) Resize(cols, rows uint16) error {
	return s.sess.WindowChange(int(rows), int(cols))
}

func (s *sshPtySession) Output() <-chan []byte { return s.out }

func (s *sshPtySession) Done() <-chan int { return s.done }

func (s *sshPtySession) Close() error {
	s.closed.Do(func() {
		_ = s.sess.Signal(ssh.SIGKILL)
		_ = s.sess.Close()
	})
	return nil
}
