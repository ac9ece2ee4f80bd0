// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muxrun/mux/internal/provision"
	"github.com/muxrun/mux/internal/runtime"
)

var (
	wsBranch string
	wsTrunk  string
	wsForce  bool

	wsCmd = &cobra.Command{
		Use:   "ws",
		Short: "Manage project workspaces",
	}

	wsCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			res := env.Runtime.CreateWorkspace(cmd.Context(), runtime.CreateParams{
				ProjectPath:   env.ProjectDir,
				WorkspaceName: args[0],
				Branch:        wsBranch,
				Trunk:         trunkOrDefault(env),
			})
			if !res.OK {
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+res.Error)
				return &ExitError{Code: 1}
			}
			fmt.Println(SuccessStyle.Render("Created ") + CmdStyle.Render(res.WorkspacePath))
			if res.ContainerName != "" {
				fmt.Println(SubtitleStyle.Render("container: ") + res.ContainerName)
			}
			return nil
		},
	}

	wsInitCmd = &cobra.Command{
		Use:   "init <name>",
		Short: "Sync files, check out the branch, and run the init hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			res := env.Runtime.InitWorkspace(cmd.Context(), runtime.InitParams{
				ProjectPath:   env.ProjectDir,
				WorkspacePath: env.Runtime.WorkspacePath(env.ProjectDir, args[0]),
				Branch:        wsBranch,
				Trunk:         trunkOrDefault(env),
				Log:           provision.NewLogInitLogger(env.Logger),
			})
			if !res.OK {
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+res.Error+SubtitleStyle.Render(" (phase: "+res.Phase+")"))
				return &ExitError{Code: 1}
			}
			fmt.Println(SuccessStyle.Render("Initialized ") + CmdStyle.Render(args[0]))
			return nil
		},
	}

	wsRenameCmd = &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			res := env.Runtime.RenameWorkspace(cmd.Context(), runtime.RenameParams{
				ProjectPath: env.ProjectDir,
				OldName:     args[0],
				NewName:     args[1],
			})
			return lifecycleOutcome(res, fmt.Sprintf("Renamed %s to %s", args[0], args[1]))
		},
	}

	wsDeleteCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			res := env.Runtime.DeleteWorkspace(cmd.Context(), runtime.DeleteParams{
				ProjectPath:   env.ProjectDir,
				WorkspaceName: args[0],
				Force:         wsForce,
			})
			return lifecycleOutcome(res, "Deleted "+args[0])
		},
	}

	wsForkCmd = &cobra.Command{
		Use:   "fork <source> <new>",
		Short: "Fork an existing workspace into a new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			res := env.Runtime.ForkWorkspace(cmd.Context(), runtime.ForkParams{
				ProjectPath: env.ProjectDir,
				SourceName:  args[0],
				NewName:     args[1],
				Branch:      wsBranch,
			})
			if !res.OK {
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+res.Error)
				return &ExitError{Code: 1}
			}
			fmt.Println(SuccessStyle.Render("Forked ") + CmdStyle.Render(res.WorkspacePath))
			return nil
		},
	}

	wsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List this project's workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			names, err := listWorkspaces(cmd, env)
			if err != nil {
				return cliError(err)
			}
			if len(names) == 0 {
				fmt.Println(SubtitleStyle.Render("no workspaces"))
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
)

func init() {
	wsCreateCmd.Flags().StringVar(&wsBranch, "branch", "", "branch to check out in the workspace")
	wsCreateCmd.Flags().StringVar(&wsTrunk, "trunk", "", "trunk branch new branches fork from")
	wsInitCmd.Flags().StringVar(&wsBranch, "branch", "", "branch to check out in the workspace")
	wsInitCmd.Flags().StringVar(&wsTrunk, "trunk", "", "trunk branch new branches fork from")
	wsForkCmd.Flags().StringVar(&wsBranch, "branch", "", "branch for the forked workspace")
	wsDeleteCmd.Flags().BoolVarP(&wsForce, "force", "f", false, "delete even with uncommitted or unpushed work")

	wsCmd.AddCommand(wsCreateCmd)
	wsCmd.AddCommand(wsInitCmd)
	wsCmd.AddCommand(wsRenameCmd)
	wsCmd.AddCommand(wsDeleteCmd)
	wsCmd.AddCommand(wsForkCmd)
	wsCmd.AddCommand(wsListCmd)
}

func trunkOrDefault(env *environment) string {
	if wsTrunk != "" {
		return wsTrunk
	}
	return env.Project.Trunk
}

func lifecycleOutcome(res *runtime.LifecycleResult, success string) error {
	if !res.OK {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+res.Error)
		return &ExitError{Code: 1}
	}
	fmt.Println(SuccessStyle.Render(success))
	return nil
}

// cliError prints err through the actionable formatter and converts it into
// an ExitError so fang does not re-print it.
func cliError(err error) error {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	return &ExitError{Code: 1, Err: err}
}

// listWorkspaces enumerates workspace directories for backends that keep one
// directory per workspace under a common parent. The local runtime has exactly
// one workspace (the project itself); a container runtime's workspace is its
// container.
func listWorkspaces(cmd *cobra.Command, env *environment) ([]string, error) {
	switch env.Runtime.Kind() {
	case runtime.KindLocal:
		return []string{env.ProjectDir}, nil
	case runtime.KindWorktree:
		parent := filepath.Dir(env.Runtime.WorkspacePath(env.ProjectDir, "x"))
		entries, err := os.ReadDir(parent)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		return names, nil
	case runtime.KindSSH:
		// The per-project parent dir is base-relative; letting the runtime
		// resolve it via Cwd keeps $HOME-relative base dirs working.
		parent := filepath.Base(env.ProjectDir)
		out, err := env.Runtime.Run(cmd.Context(), "ls -1 . 2>/dev/null || true", runtime.ExecOptions{Cwd: parent})
		if err != nil {
			return nil, err
		}
		return splitLines(out.Stdout), nil
	default:
		return nil, nil
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
