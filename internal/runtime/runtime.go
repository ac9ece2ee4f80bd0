// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/muxrun/mux/internal/container"
	"github.com/muxrun/mux/internal/platform"
	"github.com/muxrun/mux/internal/provision"
	"github.com/muxrun/mux/internal/sshpool"
)

// Kind constants for the supported workspace backends.
const (
	KindLocal     Kind = "local"
	KindWorktree  Kind = "worktree"
	KindSSH       Kind = "ssh"
	KindContainer Kind = "container"
)

type (
	// Kind identifies a workspace backend.
	Kind string

	// Config is the tagged union selecting a concrete Runtime. It is immutable
	// once a workspace has been created: the same config must be used for every
	// subsequent operation against that workspace.
	Config struct {
		// Type discriminates the union.
		Type Kind `toml:"type" mapstructure:"type"`
		// SrcBaseDir is the base directory holding workspaces (worktree, ssh).
		// For SSH it is resolved server-side relative to $HOME when not absolute.
		SrcBaseDir string `toml:"src_base_dir,omitempty" mapstructure:"src_base_dir"`
		// Host is the SSH host alias or address (ssh only).
		Host string `toml:"host,omitempty" mapstructure:"host"`
		// Port overrides the SSH port when non-zero (ssh only).
		Port int `toml:"port,omitempty" mapstructure:"port"`
		// Image is the container image to provision workspaces from (container only).
		Image string `toml:"image,omitempty" mapstructure:"image"`
		// ContainerName pins an existing container (container only). Empty until
		// CreateWorkspace has derived one.
		ContainerName string `toml:"container_name,omitempty" mapstructure:"container_name"`
	}

	// Deps carries the shared services a Runtime may need. Nil fields are
	// replaced with defaults by New.
	Deps struct {
		Pool   *sshpool.Pool
		Engine container.Engine
		Logger *log.Logger
	}

	// Runtime is the uniform interface for executing commands and managing
	// files and lifecycle for workspaces of one backend, regardless of where
	// the workspace actually lives.
	Runtime interface {
		// Kind returns the backend kind.
		Kind() Kind

		// Exec spawns command through the backend's transport. A non-zero exit
		// code is not an error; only infrastructure failures (spawn failure,
		// connection refusal) return a non-nil error.
		Exec(ctx context.Context, command string, opts ExecOptions) (*Process, error)

		// Run executes command and captures its output. Timeouts surface as
		// Output.TimedOut with the timeout sentinel appended to stderr, never
		// as an indefinite hang.
		Run(ctx context.Context, command string, opts ExecOptions) (*Output, error)

		// ResolvePath resolves a possibly-relative path against the backend's
		// base path rules.
		ResolvePath(path string) string

		// WorkspacePath returns the absolute path of the named workspace.
		WorkspacePath(projectPath, workspaceName string) string

		// ReadFile reads a file through shell redirection.
		ReadFile(ctx context.Context, path string) ([]byte, error)

		// WriteFile writes data through shell redirection using a
		// temp-file-then-rename sequence that preserves symlinks and the
		// target's permission bits.
		WriteFile(ctx context.Context, path string, data []byte) error

		// CreateWorkspace provisions the workspace (directory, worktree, or
		// container). Creation is all-or-nothing: partial state is cleaned up
		// before an error result is returned.
		CreateWorkspace(ctx context.Context, p CreateParams) *CreateResult

		// InitWorkspace runs the shared second phase after CreateWorkspace:
		// file sync, branch checkout, and the optional init hook. The params'
		// logger receives structured progress and always sees Complete.
		InitWorkspace(ctx context.Context, p InitParams) *InitResult

		// RenameWorkspace renames a workspace. Backends that cannot rename
		// safely return a not-supported refusal.
		RenameWorkspace(ctx context.Context, p RenameParams) *LifecycleResult

		// DeleteWorkspace deletes a workspace. Idempotent: deleting a missing
		// workspace reports success. Refuses on uncommitted or unpushed work
		// unless forced.
		DeleteWorkspace(ctx context.Context, p DeleteParams) *LifecycleResult

		// ForkWorkspace creates a new workspace branched from an existing one.
		ForkWorkspace(ctx context.Context, p ForkParams) *CreateResult

		// CreatePtySession opens an interactive shell sized to the given
		// dimensions at the workspace path.
		CreatePtySession(ctx context.Context, p PtyParams) (PtySession, error)
	}

	// CreateParams requests workspace creation.
	CreateParams struct {
		ProjectPath   string
		WorkspaceName string
		Branch        string
		Trunk         string
	}

	// CreateResult reports workspace creation. Error is a display-ready
	// message when OK is false.
	CreateResult struct {
		OK            bool
		WorkspacePath string
		WorkspaceID   string
		ContainerName string
		Error         string
	}

	// InitParams requests workspace initialization.
	InitParams struct {
		ProjectPath   string
		WorkspacePath string
		Branch        string
		Trunk         string
		Log           provision.InitLogger
	}

	// InitResult reports workspace initialization. Phase names the first
	// failing provisioning phase when OK is false.
	InitResult struct {
		OK    bool
		Phase string
		Error string
	}

	// RenameParams requests a workspace rename.
	RenameParams struct {
		ProjectPath string
		OldName     string
		NewName     string
	}

	// DeleteParams requests workspace deletion. Force skips the uncommitted
	// and unpushed-work guards.
	DeleteParams struct {
		ProjectPath   string
		WorkspaceName string
		Force         bool
	}

	// ForkParams requests forking an existing workspace into a new one.
	ForkParams struct {
		ProjectPath   string
		SourceName    string
		NewName       string
		Branch        string
	}

	// LifecycleResult is the discriminated outcome of rename and delete.
	LifecycleResult struct {
		OK    bool
		Error string
	}
)

// Validate checks that the config's tag and tag-specific fields are coherent.
func (c Config) Validate() error {
	switch c.Type {
	case KindLocal:
		return nil
	case KindWorktree:
		return nil
	case KindSSH:
		if c.Host == "" {
			return fmt.Errorf("ssh runtime config requires a host")
		}
		return nil
	case KindContainer:
		if c.Image == "" && c.ContainerName == "" {
			return fmt.Errorf("container runtime config requires an image or container name")
		}
		return nil
	default:
		return fmt.Errorf("unknown runtime type %q", c.Type)
	}
}

// ValidateWorkspaceName rejects names that cannot safely become a directory,
// branch segment, or container-name segment on any supported platform.
func ValidateWorkspaceName(name string) error {
	if name == "" {
		return fmt.Errorf("workspace name must not be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("workspace name %q is reserved", name)
	}
	if strings.ContainsAny(name, "/\\:") {
		return fmt.Errorf("workspace name %q must not contain path separators", name)
	}
	if platform.IsWindowsReservedName(name) {
		return fmt.Errorf("workspace name %q is reserved on Windows", name)
	}
	return nil
}

// New instantiates the concrete Runtime for cfg. This is the single place
// backend selection happens; callers never switch on the config tag themselves.
func New(cfg Config, deps Deps) (Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	switch cfg.Type {
	case KindLocal:
		return NewLocalRuntime(deps.Logger), nil
	case KindWorktree:
		return NewWorktreeRuntime(cfg.SrcBaseDir, deps.Logger), nil
	case KindSSH:
		pool := deps.Pool
		if pool == nil {
			pool = sshpool.NewPool(sshpool.DefaultOptions())
		}
		return NewSSHRuntime(cfg, pool, deps.Logger), nil
	case KindContainer:
		engine := deps.Engine
		if engine == nil {
			var err error
			engine, err = container.AutoDetectEngine()
			if err != nil {
				return nil, err
			}
		}
		return NewContainerRuntime(cfg, engine, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown runtime type %q", cfg.Type)
	}
}

func refusal(format string, args ...any) *LifecycleResult {
	return &LifecycleResult{OK: false, Error: fmt.Sprintf(format, args...)}
}

func createFailure(format string, args ...any) *CreateResult {
	return &CreateResult{OK: false, Error: fmt.Sprintf(format, args...)}
}
