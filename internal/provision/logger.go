// SPDX-License-Identifier: MPL-2.0

package provision

import "github.com/charmbracelet/log"

type (
	// InitLogger receives structured progress from workspace initialization.
	// It is the only UI-facing surface of the provisioning code. Complete is
	// called exactly once on every exit path, success or failure; callers use
	// it to close progress indicators.
	InitLogger interface {
		// Step announces the start of a named provisioning step.
		Step(name string)
		// Stderr forwards one line of diagnostic output.
		Stderr(line string)
		// Complete signals the end of initialization with the final exit code
		// (0 on success).
		Complete(exitCode int)
	}

	// NopLogger discards all progress.
	NopLogger struct{}

	logInitLogger struct {
		l *log.Logger
	}
)

func (NopLogger) Step(string)   {}
func (NopLogger) Stderr(string) {}
func (NopLogger) Complete(int)  {}

// NewLogInitLogger adapts a charm logger into an InitLogger.
func NewLogInitLogger(l *log.Logger) InitLogger {
	return &logInitLogger{l: l}
}

func (s *logInitLogger) Step(name string) {
	s.l.Info("init", "step", name)
}

func (s *logInitLogger) Stderr(line string) {
	s.l.Warn("init", "stderr", line)
}

func (s *logInitLogger) Complete(exitCode int) {
	if exitCode == 0 {
		s.l.Info("init complete")
		return
	}
	s.l.Error("init failed", "exit_code", exitCode)
}
