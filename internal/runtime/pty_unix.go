// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package runtime

import (
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// localPtySession drives a command attached to a local pseudo-terminal. It
// backs both the local/worktree runtimes (shell spawned directly) and the
// container runtime (engine CLI spawned with -it).
type localPtySession struct {
	f      *os.File
	cmd    *exec.Cmd
	out    chan []byte
	done   chan int
	closed sync.Once
}

// startLocalPty attaches cmd to a new PTY sized to cols x rows.
func startLocalPty(cmd *exec.Cmd, cols, rows uint16) (PtySession, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, err
	}

	s := &localPtySession{
		f:    f,
		cmd:  cmd,
		out:  make(chan []byte, 16),
		done: make(chan int, 1),
	}

	go s.pump()
	go s.wait()
	return s, nil
}

func (s *localPtySession) pump() {
	defer close(s.out)
	buf := make([]byte, 4096)
	for {
		n, err := s.f.Read(buf)
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

func (s *localPtySession) wait() {
	code := 0
	if err := s.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.done <- code
	close(s.done)
}

func (s *localPtySession) Write(data []byte) error {
	_, err := s.f.Write(data)
	return err
}

func (s *localPtySession) Resize(cols, rows uint16) error {
	return pty.Setsize(s.f, &pty.Winsize{Rows: rows, Cols: cols})
}

func (s *localPtySession) Output() <-chan []byte { return s.out }

func (s *localPtySession) Done() <-chan int { return s.done }

func (s *localPtySession) Close() error {
	s.closed.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.f.Close()
	})
	return nil
}
