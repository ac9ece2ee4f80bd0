// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"
)

// timeoutExitCode mirrors the shell convention for commands killed by timeout.
const timeoutExitCode = 124

type (
	// ExecOptions controls a single command execution. The context passed to
	// Exec/Run carries caller-driven cancellation; Timeout is an independent
	// hard ceiling that always wins a race against natural completion.
	ExecOptions struct {
		// Cwd is the working directory, resolved against the backend base path.
		Cwd string
		// Env is injected into the command's environment.
		Env map[string]string
		// Timeout kills the process when exceeded. Zero means no ceiling.
		Timeout time.Duration
		// Stdin, when set, is streamed to the process and its stdin closed after.
		Stdin io.Reader
	}

	// Status is the settled outcome of a spawned process.
	Status struct {
		ExitCode int
		TimedOut bool
		// Err is set only for infrastructure failures, never for a plain
		// non-zero exit.
		Err error
	}

	// Process is a uniform handle over a spawned command, regardless of
	// whether it runs locally, over SSH, or inside a container.
	Process struct {
		Stdin  io.WriteCloser
		Stdout io.Reader
		Stderr io.Reader

		waitFn func() (int, error)
		killFn func() error

		timedOut  atomic.Bool
		stopTimer func() bool

		waitOnce sync.Once
		status   Status
	}

	// Output is the captured result of Run.
	Output struct {
		ExitCode int
		Stdout   string
		Stderr   string
		TimedOut bool
	}

	// SpawnOptions carries transport-level spawn inputs. Working directory and
	// environment are already baked into the full command string.
	SpawnOptions struct {
		Stdin io.Reader
	}

	// Transport is the backend-specific spawning mechanism. The full command
	// is a complete POSIX shell command line assembled by the executor.
	Transport interface {
		Spawn(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error)
	}

	// executor implements exec and file I/O once for every backend,
	// parameterized by the transport and the backend's path and cd rules.
	executor struct {
		transport Transport
		basePath  func() string
		cd        func(cwd string) string
		log       *log.Logger
	}
)

func newExecutor(t Transport, basePath func() string, logger *log.Logger) *executor {
	if logger == nil {
		logger = log.Default()
	}
	e := &executor{
		transport: t,
		basePath:  basePath,
		log:       logger,
	}
	e.cd = func(cwd string) string { return "cd " + ShellQuote(e.ResolvePath(cwd)) }
	return e
}

// NewProcess builds a Process from raw handles. Transports use this to adapt
// their native process shape.
func NewProcess(stdin io.WriteCloser, stdout, stderr io.Reader, wait func() (int, error), kill func() error) *Process {
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		waitFn: wait,
		killFn: kill,
	}
}

// Wait blocks until the process settles and returns its status. Safe to call
// multiple times; the outcome is computed once.
func (p *Process) Wait() Status {
	p.waitOnce.Do(func() {
		code, err := p.waitFn()
		if p.stopTimer != nil {
			p.stopTimer()
		}
		if p.timedOut.Load() {
			p.status = Status{ExitCode: timeoutExitCode, TimedOut: true}
			return
		}
		p.status = Status{ExitCode: code, Err: err}
	})
	return p.status
}

// Kill terminates the process. Idempotent; killing an exited process is a no-op.
func (p *Process) Kill() error {
	if p.killFn == nil {
		return nil
	}
	return p.killFn()
}

// armTimeout starts the hard-ceiling timer. The timer always results in
// process termination, not just logical abandonment.
func (p *Process) armTimeout(d time.Duration) {
	t := time.AfterFunc(d, func() {
		p.timedOut.Store(true)
		_ = p.Kill()
	})
	p.stopTimer = t.Stop
}

// Exec assembles the full shell command and spawns it through the transport.
func (e *executor) Exec(ctx context.Context, command string, opts ExecOptions) (*Process, error) {
	full := e.assemble(command, opts)
	if e.log != nil {
		e.log.Debug("exec", "command", full)
	}
	p, err := e.transport.Spawn(ctx, full, SpawnOptions{Stdin: opts.Stdin})
	if err != nil {
		return nil, fmt.Errorf("spawning command: %w", err)
	}
	if opts.Timeout > 0 {
		p.armTimeout(opts.Timeout)
	}
	return p, nil
}

// Run executes command and captures stdout/stderr. On timeout the captured
// stderr gains a trailing "Command timed out" sentinel so callers never see a
// silently truncated run.
func (e *executor) Run(ctx context.Context, command string, opts ExecOptions) (*Output, error) {
	p, err := e.Exec(ctx, command, opts)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdout, p.Stdout)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, p.Stderr)
	}()

	// Drain before Wait: waiting first would let the process handles close
	// while buffered tail output is still in flight, truncating the capture.
	// The copiers terminate on EOF when the child exits.
	wg.Wait()
	st := p.Wait()

	out := &Output{
		ExitCode: st.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: st.TimedOut,
	}
	if st.TimedOut {
		if out.Stderr != "" && !strings.HasSuffix(out.Stderr, "\n") {
			out.Stderr += "\n"
		}
		out.Stderr += fmt.Sprintf("Command timed out after %s\n", opts.Timeout)
		return out, nil
	}
	if st.Err != nil {
		return nil, st.Err
	}
	return out, nil
}

// ResolvePath resolves a possibly-relative path against the backend base path.
// Remote paths are always POSIX, so this uses slash semantics.
func (e *executor) ResolvePath(p string) string {
	if p == "" {
		return e.basePath()
	}
	if path.IsAbs(p) {
		return p
	}
	base := e.basePath()
	if base == "" {
		return p
	}
	return path.Join(base, p)
}

// ReadFile reads a file via `cat` so reads behave identically across backends.
func (e *executor) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	out, err := e.Run(ctx, "cat "+ShellQuote(e.ResolvePath(filePath)), ExecOptions{})
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("reading %s: %s", filePath, strings.TrimSpace(out.Stderr))
	}
	return []byte(out.Stdout), nil
}

// WriteFile writes data through a temp-file-then-rename sequence. The path is
// resolved through `readlink -f` first so writing through a symlink rewrites
// the target while the symlink itself stays a symlink, and the target's
// original permission bits are re-applied to the replacement file.
func (e *executor) WriteFile(ctx context.Context, filePath string, data []byte) error {
	script := fmt.Sprintf(`set -e
p=%s
if [ -e "$p" ] || [ -L "$p" ]; then t=$(readlink -f "$p"); else t="$p"; fi
mkdir -p "$(dirname "$t")"
m=""
if [ -f "$t" ]; then m=$(stat -c %%a "$t" 2>/dev/null || stat -f %%Lp "$t" 2>/dev/null || true); fi
tmp="$t.mux-tmp.$$"
cat > "$tmp"
if [ -n "$m" ]; then chmod "$m" "$tmp"; fi
mv -f "$tmp" "$t"`, ShellQuote(e.ResolvePath(filePath)))

	out, err := e.Run(ctx, script, ExecOptions{Stdin: bytes.NewReader(data)})
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("writing %s: %s", filePath, strings.TrimSpace(out.Stderr))
	}
	return nil
}

// assemble builds the complete shell command line: cd into the working
// directory, then run the command under `env` when extra variables are set.
// Baking everything into one string keeps local, SSH, and container spawning
// on the exact same code path. An empty Cwd defaults to the backend base
// path, so remote backends never inherit the transport's own working
// directory (the image workdir, the SSH login dir).
func (e *executor) assemble(command string, opts ExecOptions) string {
	inner := command
	if len(opts.Env) > 0 {
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("env")
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(ShellQuote(opts.Env[k]))
		}
		b.WriteString(" sh -c ")
		b.WriteString(ShellQuote(command))
		inner = b.String()
	}
	cwd := opts.Cwd
	if cwd == "" && e.basePath() == "" {
		return inner
	}
	return e.cd(cwd) + " && " + inner
}

// ShellQuote quotes s for a POSIX shell. Falls back to manual single-quoting
// for strings syntax.Quote rejects (invalid UTF-8). Shared by everything
// that splices user-controlled values into a shell command line.
func ShellQuote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}
