// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package cmd

import (
	"os"
	"os/signal"
	"syscall"
)

// watchResize invokes fn on every terminal window-size change until the
// returned stop function is called.
func watchResize(fn func()) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
