// SPDX-License-Identifier: MPL-2.0

// Package provision implements the shared workspace initialization phase:
// syncing the project repository into a freshly created workspace via a git
// bundle handoff, checking out the requested branch, and running the optional
// project init hook.
//
// The package operates against a minimal Target interface so the same
// provisioning code serves the SSH, container, worktree, and local runtimes
// without importing any of them. Progress is reported through an InitLogger
// sink; Complete fires on every exit path so progress UIs never hang.
package provision
