// SPDX-License-Identifier: MPL-2.0

package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Sentinel is the literal stdout line separating the hook's pre-execution
// phase from tool execution. Part of the external protocol; never change it.
const Sentinel = "__MUX_EXEC__"

// DefaultHookRelPath is the fixed project-relative location of the tool hook.
const DefaultHookRelPath = ".mux/hooks/tool"

// DefaultMaxOutput caps the hook output captured and forwarded, preventing
// unbounded IPC payloads.
const DefaultMaxOutput = 64 * 1024

const truncationMarker = "\n... [output truncated]"

type (
	// Invocation describes one tool call to the hook.
	Invocation struct {
		ToolName    string
		Input       json.RawMessage
		WorkspaceID string
		ProjectDir  string
		TempDir     string
		ExtraEnv    map[string]string
	}

	// ToolResult is a tool's outcome. Streaming results carry a Stream the
	// wrapper must pass through unmodified; HookOutput is attached to the
	// result without disturbing the stream.
	ToolResult struct {
		Text       string
		Stream     io.Reader
		HookOutput string
	}

	// ToolFunc executes the wrapped tool.
	ToolFunc func(ctx context.Context) (*ToolResult, error)

	// Outcome is the settled result of a hook-wrapped tool call.
	Outcome struct {
		// Blocked is true when the hook exited before the sentinel; the tool
		// was never executed and BlockedOutput is the hook's captured output.
		Blocked       bool
		BlockedOutput string
		// Result is the tool's result (nil when blocked or the tool errored),
		// with HookOutput populated per the protocol rules.
		Result *ToolResult
	}

	// Runner wraps tool executions with the project's hook, when present.
	Runner struct {
		// HookPath is the hook executable. Missing file means passthrough.
		HookPath string
		// MaxOutput caps captured hook output in bytes.
		MaxOutput int
		Log       *log.Logger
	}

	// capBuffer captures output up to a byte ceiling, thread-safe because the
	// hook's stdout and stderr both write into it.
	capBuffer struct {
		mu        sync.Mutex
		buf       strings.Builder
		max       int
		truncated bool
	}
)

// NewRunner builds a runner for the project's hook at the fixed path.
func NewRunner(projectDir string, logger *log.Logger) *Runner {
	return &Runner{
		HookPath:  filepath.Join(projectDir, DefaultHookRelPath),
		MaxOutput: DefaultMaxOutput,
		Log:       logger,
	}
}

// Run executes tool, wrapped by the hook subprocess when one is discoverable.
// Infrastructure failures (hook spawn, context cancellation) return an error;
// a hook that blocks the tool is a normal Outcome.
func (r *Runner) Run(ctx context.Context, inv Invocation, tool ToolFunc) (*Outcome, error) {
	info, err := os.Stat(r.HookPath)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		res, toolErr := tool(ctx)
		if toolErr != nil {
			return nil, toolErr
		}
		return &Outcome{Result: res}, nil
	}

	cmd := exec.CommandContext(ctx, r.HookPath)
	cmd.Dir = inv.ProjectDir
	cmd.Env = r.hookEnv(inv)

	capture := &capBuffer{max: r.maxOutput()}
	parser := newSentinelParser(capture)
	cmd.Stdout = parser
	cmd.Stderr = capture

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("hook stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning hook %s: %w", r.HookPath, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var hookErr error
	hookExited := false
	select {
	case <-parser.SentinelSeen():
		// Pre-checks passed; the tool may run.
	case err := <-waitCh:
		// Wait returning does not by itself mean the tool is blocked: a hook
		// may print the sentinel and exit without reading the result, making
		// both channels ready at once. Only an exit with no sentinel blocks.
		select {
		case <-parser.SentinelSeen():
			hookExited, hookErr = true, err
		default:
			parser.Settle()
			if r.Log != nil {
				r.Log.Debug("hook blocked tool", "tool", inv.ToolName, "err", err)
			}
			return &Outcome{Blocked: true, BlockedOutput: capture.String()}, nil
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitCh
		return nil, ctx.Err()
	}

	result, toolErr := tool(ctx)

	// Best-effort when the hook already exited: the write fails on the
	// closed pipe and the error is irrelevant.
	payload := r.resultPayload(inv, result, toolErr)
	_, _ = stdin.Write(payload)
	_ = stdin.Close()

	if !hookExited {
		select {
		case hookErr = <-waitCh:
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-waitCh
			return nil, ctx.Err()
		}
	}
	parser.Settle()

	output := capture.String()
	if toolErr != nil {
		return nil, toolErr
	}
	// Hook output is always attached on hook failure, and on success only
	// when the hook actually printed something (e.g. a formatter notice).
	if hookErr != nil || output != "" {
		result.HookOutput = output
	}
	return &Outcome{Result: result}, nil
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) hookEnv(inv Invocation) []string {
	env := append(os.Environ(),
		"MUX_TOOL_NAME="+inv.ToolName,
		"MUX_TOOL_INPUT="+string(inv.Input),
		"MUX_WORKSPACE_ID="+inv.WorkspaceID,
		"MUX_PROJECT_DIR="+inv.ProjectDir,
		"MUX_TMPDIR="+inv.TempDir,
	)
	for k, v := range inv.ExtraEnv {
		env = append(env, k+"="+v)
	}
	return env
}

// resultPayload serializes the tool result for the hook's stdin. Streaming
// results are summarized rather than drained: the stream belongs to the
// caller and must pass through undisturbed.
func (r *Runner) resultPayload(inv Invocation, result *ToolResult, toolErr error) []byte {
	type payload struct {
		Tool      string `json:"tool"`
		Result    string `json:"result,omitempty"`
		Streaming bool   `json:"streaming,omitempty"`
		Error     string `json:"error,omitempty"`
	}
	p := payload{Tool: inv.ToolName}
	switch {
	case toolErr != nil:
		p.Error = toolErr.Error()
	case result != nil && result.Stream != nil:
		p.Streaming = true
	case result != nil:
		p.Result = result.Text
	}
	data, err := json.Marshal(p)
	if err != nil {
		return []byte("{}")
	}
	return append(data, '\n')
}

func (b *capBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return len(data), nil
	}
	remaining := b.max - b.buf.Len()
	if len(data) > remaining {
		b.buf.Write(data[:remaining])
		b.truncated = true
		return len(data), nil
	}
	b.buf.Write(data)
	return len(data), nil
}

func (b *capBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}
