// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muxrun/mux/internal/runtime"
)

var shellCmd = &cobra.Command{
	Use:   "shell [workspace]",
	Short: "Open an interactive shell in a workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return cliError(err)
		}

		workspacePath := env.ProjectDir
		if len(args) > 0 {
			workspacePath = env.Runtime.WorkspacePath(env.ProjectDir, args[0])
		}

		cols, rows := 80, 24
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			if w, h, sizeErr := term.GetSize(stdinFd); sizeErr == nil {
				cols, rows = w, h
			}
		}

		session, err := env.Runtime.CreatePtySession(cmd.Context(), runtime.PtyParams{
			WorkspacePath: workspacePath,
			Cols:          uint16(cols),
			Rows:          uint16(rows),
		})
		if err != nil {
			return cliError(err)
		}
		defer session.Close()

		var restore func()
		if term.IsTerminal(stdinFd) {
			oldState, rawErr := term.MakeRaw(stdinFd)
			if rawErr != nil {
				return cliError(rawErr)
			}
			restore = func() { _ = term.Restore(stdinFd, oldState) }
			defer restore()
		}

		stopResize := watchResize(func() {
			if w, h, sizeErr := term.GetSize(stdinFd); sizeErr == nil {
				_ = session.Resize(uint16(w), uint16(h))
			}
		})
		defer stopResize()

		// stdin pump; exits when stdin closes or the session is gone.
		go func() {
			buf := make([]byte, 4096)
			for {
				n, readErr := os.Stdin.Read(buf)
				if n > 0 {
					if session.Write(buf[:n]) != nil {
						return
					}
				}
				if readErr != nil {
					return
				}
			}
		}()

		output := session.Output()
		for {
			select {
			case chunk, ok := <-output:
				if !ok {
					output = nil
					continue
				}
				_, _ = os.Stdout.Write(chunk)
			case code := <-session.Done():
				if restore != nil {
					restore()
				}
				if output != nil {
					drainOutput(output)
				}
				if code != 0 {
					return &ExitError{Code: code}
				}
				return nil
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	},
}

// drainOutput flushes any output buffered between shell exit and Done delivery.
func drainOutput(out <-chan []byte) {
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return
			}
			_, _ = os.Stdout.Write(chunk)
		default:
			return
		}
	}
}
