// SPDX-License-Identifier: MPL-2.0

// Package container abstracts CLI-based container engines (Docker/Podman) for
// workspace containers.
//
// Every operation is a fresh subprocess invocation of the engine binary;
// there is no daemon connection to pool. The command constructor is
// injectable so tests can run against mock binaries.
package container
