// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/muxrun/mux/internal/platform"
)

const (
	// AppName is the application name, used for config and state paths.
	AppName = "mux"
	// ConfigFileName is the global config file name.
	ConfigFileName = "config.toml"
)

type (
	// Global is the per-user configuration.
	Global struct {
		// DefaultRuntime selects the runtime used when a project's mux.toml
		// does not declare one: local, worktree, ssh, or container.
		DefaultRuntime string `mapstructure:"default_runtime"`

		// ContainerEngine prefers docker or podman; empty means auto-detect.
		ContainerEngine string `mapstructure:"container_engine"`

		// WorktreeBaseDir overrides where worktree workspaces are created.
		WorktreeBaseDir string `mapstructure:"worktree_base_dir"`

		SSH SSHSettings `mapstructure:"ssh"`
	}

	// SSHSettings tunes the shared SSH connection pool.
	SSHSettings struct {
		BaseBackoff   time.Duration `mapstructure:"base_backoff"`
		MaxBackoff    time.Duration `mapstructure:"max_backoff"`
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	}
)

// DefaultGlobal returns the built-in defaults.
func DefaultGlobal() *Global {
	return &Global{
		DefaultRuntime: "worktree",
		SSH: SSHSettings{
			BaseBackoff:   time.Second,
			MaxBackoff:    60 * time.Second,
			ProbeInterval: 30 * time.Second,
		},
	}
}

// ConfigDir returns the mux configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application
// Support, and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// StateDir returns the mux state directory (gate run records live under it).
// Linux follows $XDG_STATE_HOME (defaulting to ~/.local/state); Windows uses
// %LOCALAPPDATA%; macOS reuses the config directory convention.
func StateDir() (string, error) {
	if stateDirOverride != "" {
		return stateDirOverride, nil
	}

	var stateDir string

	switch runtime.GOOS {
	case platform.Windows:
		stateDir = os.Getenv("LOCALAPPDATA")
		if stateDir == "" {
			stateDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(home, "Library", "Application Support")
	default:
		stateDir = os.Getenv("XDG_STATE_HOME")
		if stateDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			stateDir = filepath.Join(home, ".local", "state")
		}
	}

	return filepath.Join(stateDir, AppName), nil
}

// GatesDir returns the directory holding persisted gate runs.
func GatesDir() (string, error) {
	stateDir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, "gates"), nil
}

// LoadGlobal reads the global config file, layering MUX_* environment
// variables over it. A missing config file yields the defaults.
func LoadGlobal() (*Global, error) {
	v := viper.New()

	defaults := DefaultGlobal()
	v.SetDefault("default_runtime", defaults.DefaultRuntime)
	v.SetDefault("container_engine", defaults.ContainerEngine)
	v.SetDefault("worktree_base_dir", defaults.WorktreeBaseDir)
	v.SetDefault("ssh.base_backoff", defaults.SSH.BaseBackoff)
	v.SetDefault("ssh.max_backoff", defaults.SSH.MaxBackoff)
	v.SetDefault("ssh.probe_interval", defaults.SSH.ProbeInterval)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(cfgDir, ConfigFileName)
	if fileExists(cfgPath) {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
	}

	var cfg Global
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
