// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling for CLI-facing failures.
//
// Errors carry the attempted operation, the resource involved, and concrete
// remediation suggestions, so command output tells the user what to do next
// instead of only what broke.
package issue
