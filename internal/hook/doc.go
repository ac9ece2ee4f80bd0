// SPDX-License-Identifier: MPL-2.0

// Package hook wraps tool executions with an optional external hook
// subprocess using a line-based handshake.
//
// The hook is spawned with the tool call described in its environment. It may
// run pre-checks and must print the __MUX_EXEC__ sentinel line on stdout to
// let the tool run; the tool's serialized result is then written to the
// hook's stdin and the hook performs its post-logic. A hook that exits
// without emitting the sentinel blocks the tool entirely.
package hook
