// SPDX-License-Identifier: MPL-2.0

// Package config loads mux configuration from two layers: the per-user
// global config (config.toml under the platform config directory, with
// MUX_* environment overrides) and the per-project mux.toml that declares
// the project's trunk branch, runtime, and gates.
package config
