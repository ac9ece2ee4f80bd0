// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"context"
	"time"

	"github.com/muxrun/mux/internal/runtime"
)

// DefaultTimeout bounds a single gate when the gate itself does not set one.
const DefaultTimeout = 10 * time.Minute

// maxCapturedChars caps stdout/stderr per gate. The tail is kept: failures
// are usually at the end.
const maxCapturedChars = 20000

const truncationPrefix = "[truncated] "

type (
	// Gate is one named shell check.
	Gate struct {
		Name    string        `json:"name"`
		Command string        `json:"command"`
		Timeout time.Duration `json:"timeout"`
	}

	// Execer is the execution surface the runner needs; any Runtime satisfies it.
	Execer interface {
		Run(ctx context.Context, command string, opts runtime.ExecOptions) (*runtime.Output, error)
	}

	// GateResult is the captured outcome of one gate.
	GateResult struct {
		Name            string `json:"name"`
		Command         string `json:"command"`
		ExitCode        int    `json:"exitCode"`
		DurationMs      int64  `json:"durationMs"`
		Stdout          string `json:"stdout"`
		Stderr          string `json:"stderr"`
		StdoutTruncated bool   `json:"stdoutTruncated,omitempty"`
		StderrTruncated bool   `json:"stderrTruncated,omitempty"`
	}

	// RunResult is the outcome of a full gate run.
	RunResult struct {
		OK              bool         `json:"ok"`
		StartedAt       time.Time    `json:"startedAt"`
		FinishedAt      time.Time    `json:"finishedAt"`
		TotalDurationMs int64        `json:"totalDurationMs"`
		Results         []GateResult `json:"results"`
	}
)

// Run executes the gates in order against ex, working in cwd. It stops at the
// first non-zero exit or infrastructure error: once the run is failing there
// is no point burning further gate time.
func Run(ctx context.Context, ex Execer, cwd string, gates []Gate) *RunResult {
	res := &RunResult{OK: true, StartedAt: time.Now()}

	for _, g := range gates {
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}

		start := time.Now()
		out, err := ex.Run(ctx, g.Command, runtime.ExecOptions{Cwd: cwd, Timeout: timeout})
		duration := time.Since(start)

		if err != nil {
			res.Results = append(res.Results, GateResult{
				Name:       g.Name,
				Command:    g.Command,
				ExitCode:   -1,
				DurationMs: duration.Milliseconds(),
				Stderr:     err.Error(),
			})
			res.OK = false
			break
		}

		stdout, stdoutTrunc := truncateTail(out.Stdout)
		stderr, stderrTrunc := truncateTail(out.Stderr)
		res.Results = append(res.Results, GateResult{
			Name:            g.Name,
			Command:         g.Command,
			ExitCode:        out.ExitCode,
			DurationMs:      duration.Milliseconds(),
			Stdout:          stdout,
			Stderr:          stderr,
			StdoutTruncated: stdoutTrunc,
			StderrTruncated: stderrTrunc,
		})
		if out.ExitCode != 0 {
			res.OK = false
			break
		}
	}

	res.FinishedAt = time.Now()
	res.TotalDurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	return res
}

// truncateTail keeps the last maxCapturedChars characters of s.
func truncateTail(s string) (string, bool) {
	if len(s) <= maxCapturedChars {
		return s, false
	}
	return truncationPrefix + s[len(s)-maxCapturedChars:], true
}
