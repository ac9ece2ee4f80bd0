// SPDX-License-Identifier: MPL-2.0

//go:build windows

package runtime

import (
	"errors"
	"os/exec"
)

// startLocalPty is unsupported on Windows; the SSH and container backends are
// the interactive path there.
func startLocalPty(_ *exec.Cmd, _, _ uint16) (PtySession, error) {
	return nil, errors.New("local pty sessions are not supported on windows")
}
