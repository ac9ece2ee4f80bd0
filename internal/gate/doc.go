// SPDX-License-Identifier: MPL-2.0

// Package gate runs ordered pass/fail shell checks (lint, tests) against a
// workspace runtime, stopping at the first failure, and persists the last run
// per workspace for the UI to read back.
package gate
