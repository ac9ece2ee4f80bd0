// SPDX-License-Identifier: MPL-2.0

//go:build windows

package cmd

// watchResize is a no-op on Windows: there is no SIGWINCH equivalent to hook.
func watchResize(func()) func() {
	return func() {}
}
