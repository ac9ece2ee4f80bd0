// SPDX-License-Identifier: MPL-2.0

// Package runtime provides the uniform workspace execution interface and its
// backend implementations.
//
// A Runtime executes shell commands, reads and writes files, and manages the
// lifecycle of one kind of workspace (local directory, git worktree, remote
// host over SSH, or container). All file I/O goes through shell redirection
// rather than native filesystem calls so the same code path works identically
// against every backend. Command spawning is delegated to a Transport strategy
// injected at construction; the shared executor assembles the full shell
// command (cd, environment, quoting) once for all backends.
package runtime
