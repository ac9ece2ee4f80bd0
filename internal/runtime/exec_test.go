// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records assembled commands and replays canned results.
type fakeTransport struct {
	mu       sync.Mutex
	commands []string
	stdout   string
	stderr   string
	exit     int
	spawnErr error
}

func (t *fakeTransport) Spawn(_ context.Context, fullCommand string, opts SpawnOptions) (*Process, error) {
	t.mu.Lock()
	t.commands = append(t.commands, fullCommand)
	t.mu.Unlock()
	if t.spawnErr != nil {
		return nil, t.spawnErr
	}
	if opts.Stdin != nil {
		_, _ = io.Copy(io.Discard, opts.Stdin)
	}
	return NewProcess(nil,
		strings.NewReader(t.stdout),
		strings.NewReader(t.stderr),
		func() (int, error) { return t.exit, nil },
		func() error { return nil },
	), nil
}

func (t *fakeTransport) lastCommand(tb testing.TB) string {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.commands) == 0 {
		tb.Fatal("no command was spawned")
	}
	return t.commands[len(t.commands)-1]
}

func testExecutor(t *fakeTransport, base string) *executor {
	return newExecutor(t, func() string { return base }, nil)
}

func TestAssemble(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		command string
		opts    ExecOptions
		want    string
	}{
		{
			name:    "bare command without a base",
			command: "echo hi",
			want:    "echo hi",
		},
		{
			name:    "empty cwd defaults to the base",
			base:    "/base",
			command: "echo hi",
			want:    "cd /base && echo hi",
		},
		{
			name:    "relative cwd resolves against base",
			base:    "/base",
			command: "echo hi",
			opts:    ExecOptions{Cwd: "sub"},
			want:    "cd /base/sub && echo hi",
		},
		{
			name:    "absolute cwd kept",
			base:    "/base",
			command: "echo hi",
			opts:    ExecOptions{Cwd: "/other"},
			want:    "cd /other && echo hi",
		},
		{
			name:    "env keys sorted and values quoted",
			command: "echo hi",
			opts:    ExecOptions{Env: map[string]string{"B": "two words", "A": "1"}},
			want:    "env A=1 B='two words' sh -c 'echo hi'",
		},
		{
			name:    "cwd and env combined",
			base:    "/base",
			command: "make",
			opts:    ExecOptions{Cwd: "/w", Env: map[string]string{"K": "v"}},
			want:    "cd /w && env K=v sh -c make",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := testExecutor(&fakeTransport{}, tt.base)
			if got := e.assemble(tt.command, tt.opts); got != tt.want {
				t.Errorf("assemble() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	e := testExecutor(&fakeTransport{}, "/base")
	tests := []struct {
		in, want string
	}{
		{"", "/base"},
		{"/abs/path", "/abs/path"},
		{"rel/path", "/base/rel/path"},
		{".", "/base"},
	}
	for _, tt := range tests {
		if got := e.ResolvePath(tt.in); got != tt.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{stdout: "out", stderr: "err", exit: 3}
	e := testExecutor(tr, "")

	out, err := e.Run(context.Background(), "whatever", ExecOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3 (non-zero exits are results, not errors)", out.ExitCode)
	}
	if out.Stdout != "out" || out.Stderr != "err" {
		t.Errorf("captured %q / %q, want out / err", out.Stdout, out.Stderr)
	}
}

func TestRunSpawnFailureIsError(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{spawnErr: errors.New("no transport")}
	e := testExecutor(tr, "")

	if _, err := e.Run(context.Background(), "true", ExecOptions{}); err == nil {
		t.Fatal("Run() should surface spawn failures as errors")
	}
}

func TestRunTimeoutSentinel(t *testing.T) {
	t.Parallel()

	killed := make(chan struct{})
	var once sync.Once
	tr := transportFunc(func(context.Context, string, SpawnOptions) (*Process, error) {
		return NewProcess(nil,
			strings.NewReader(""),
			strings.NewReader(""),
			func() (int, error) { <-killed; return -1, nil },
			func() error { once.Do(func() { close(killed) }); return nil },
		), nil
	})
	e := newExecutor(tr, func() string { return "" }, nil)

	out, err := e.Run(context.Background(), "sleep forever", ExecOptions{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
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

type transportFunc func(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error)

func (f transportFunc) Spawn(ctx context.Context, fullCommand string, opts SpawnOptions) (*Process, error) {
	return f(ctx, fullCommand, opts)
}

func TestProcessWaitIsMemoized(t *testing.T) {
	t.Parallel()

	calls := 0
	p := NewProcess(nil, strings.NewReader(""), strings.NewReader(""),
		func() (int, error) { calls++; return 7, nil },
		func() error { return nil },
	)
	if st := p.Wait(); st.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", st.ExitCode)
	}
	if st := p.Wait(); st.ExitCode != 7 {
		t.Fatalf("second Wait() ExitCode = %d, want 7", st.ExitCode)
	}
	if calls != 1 {
		t.Errorf("wait ran %d times, want 1", calls)
	}
}

func TestReadFileUsesCat(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{stdout: "contents"}
	e := testExecutor(tr, "/ws")

	data, err := e.ReadFile(context.Background(), "notes.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "contents" {
		t.Errorf("ReadFile() = %q, want contents", data)
	}
	if got := tr.lastCommand(t); got != "cd /ws && cat /ws/notes.txt" {
		t.Errorf("spawned %q, want cd /ws && cat /ws/notes.txt", got)
	}
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	if got := ShellQuote("plain"); got != "plain" {
		t.Errorf("ShellQuote(plain) = %q, want unchanged", got)
	}
	quoted := ShellQuote("two words")
	if quoted == "two words" {
		t.Error("ShellQuote should quote strings containing spaces")
	}
	if got := ShellQuote("it's"); got == "it's" || got == "" {
		t.Errorf("ShellQuote(it's) = %q, want a quoted form", got)
	}
}
