// SPDX-License-Identifier: MPL-2.0

package runtime

type (
	// PtyParams sizes and places a new interactive session.
	PtyParams struct {
		// WorkspacePath is the directory the shell starts in.
		WorkspacePath string
		Cols          uint16
		Rows          uint16
	}

	// PtySession is the transport-agnostic handle over one interactive shell.
	// Output delivers raw terminal bytes until the shell exits; Done delivers
	// the exit code exactly once and is then closed. Close is idempotent and
	// releases the underlying OS or network resource exactly once.
	PtySession interface {
		// Write sends input bytes to the terminal.
		Write(data []byte) error
		// Resize forwards a live window-size change.
		Resize(cols, rows uint16) error
		// Output streams terminal output. Closed after exit.
		Output() <-chan []byte
		// Done delivers the exit code once, then closes.
		Done() <-chan int
		// Close kills the session and releases its resources.
		Close() error
	}
)
