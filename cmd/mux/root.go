// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/muxrun/mux/internal/config"
	"github.com/muxrun/mux/internal/container"
	"github.com/muxrun/mux/internal/issue"
	"github.com/muxrun/mux/internal/runtime"
	"github.com/muxrun/mux/internal/sshpool"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging.
	verbose bool
	// projectDir overrides the project directory (defaults to the working dir).
	projectDir string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "mux",
		Short: "Workspace runtimes for coding agents",
		Long: TitleStyle.Render("mux") + SubtitleStyle.Render(" - workspace runtimes for coding agents") + `

mux provisions isolated project workspaces and executes commands in them
through a uniform interface, whether the workspace is a local directory,
a git worktree, a remote host over SSH, or a container.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Add a mux.toml to your project declaring a runtime and gates
  2. Create a workspace with: mux ws create <name>
  3. Run commands with: mux exec -- <command>

` + SubtitleStyle.Render("Examples:") + `
  mux ws create feature-x        Create the 'feature-x' workspace
  mux ws init feature-x          Sync, checkout, and run the init hook
  mux exec -w feature-x -- make  Run 'make' inside the workspace
  mux gates run feature-x        Run the project's gates
  mux shell feature-x            Open an interactive shell`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "project directory (default is the working directory)")

	rootCmd.AddCommand(wsCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(shellCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// newLogger builds the CLI logger; --verbose raises the level to debug.
func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "mux",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// environment is everything a command needs to operate on the project:
// resolved config layers and the project's runtime.
type environment struct {
	Logger     *log.Logger
	Global     *config.Global
	Project    *config.Project
	ProjectDir string
	Runtime    runtime.Runtime
}

// loadEnvironment resolves the project directory, loads both config layers,
// and instantiates the project's runtime.
func loadEnvironment() (*environment, error) {
	logger := newLogger()

	dir := projectDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	global, err := config.LoadGlobal()
	if err != nil {
		return nil, err
	}
	project, err := config.LoadProject(dir)
	if err != nil {
		return nil, err
	}

	cfg := runtime.Config{Type: runtime.Kind(global.DefaultRuntime)}
	if project.Runtime != nil {
		cfg = *project.Runtime
	}
	if cfg.SrcBaseDir == "" && cfg.Type == runtime.KindWorktree {
		cfg.SrcBaseDir = global.WorktreeBaseDir
	}

	deps := runtime.Deps{Logger: logger}
	if cfg.Type == runtime.KindSSH {
		deps.Pool = sshpool.NewPool(sshpool.Options{
			BaseBackoff:   global.SSH.BaseBackoff,
			MaxBackoff:    global.SSH.MaxBackoff,
			ProbeInterval: global.SSH.ProbeInterval,
			Logger:        logger,
		})
	}
	if cfg.Type == runtime.KindContainer && global.ContainerEngine != "" {
		engine, err := container.NewEngine(container.EngineType(global.ContainerEngine))
		if err != nil {
			return nil, err
		}
		deps.Engine = engine
	}

	rt, err := runtime.New(cfg, deps)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("initialize runtime").
			WithResource(string(cfg.Type)).
			WithSuggestion("Check the [runtime] section of mux.toml").
			WithSuggestion("Check default_runtime in the global config").
			Wrap(err).
			BuildError()
	}

	return &environment{
		Logger:     logger,
		Global:     global,
		Project:    project,
		ProjectDir: dir,
		Runtime:    rt,
	}, nil
}

// workspaceStateID is the stable identifier gate runs are stored under.
func workspaceStateID(projectDir, workspaceName string) string {
	return filepath.Base(projectDir) + "-" + workspaceName
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// render with their suggestions; verbose mode shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
