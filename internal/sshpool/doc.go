// SPDX-License-Identifier: MPL-2.0

// Package sshpool manages SSH client connections with per-host health and
// exponential backoff tracking.
//
// The pool keeps exactly one health record and at most one cached client per
// host for the process lifetime; hosts are few (bounded by configured
// workspaces) so records are never evicted. Backoff windows grow
// exponentially while a host keeps failing and reset immediately on the first
// success — health is earned one success at a time, not time-decayed.
package sshpool
