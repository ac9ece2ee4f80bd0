// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muxrun/mux/internal/config"
	"github.com/muxrun/mux/internal/gate"
)

var (
	gatesCmd = &cobra.Command{
		Use:   "gates",
		Short: "Run and inspect the project's gates",
	}

	gatesRunCmd = &cobra.Command{
		Use:   "run [workspace]",
		Short: "Run the gates declared in mux.toml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			if len(env.Project.Gates) == 0 {
				fmt.Println(SubtitleStyle.Render("no gates configured"))
				return nil
			}

			workspace := workspaceArg(args)
			cwd := env.ProjectDir
			if workspace != "" {
				cwd = env.Runtime.WorkspacePath(env.ProjectDir, workspace)
			}

			res := gate.Run(cmd.Context(), env.Runtime, cwd, env.Project.Gates)
			if store := gateStore(env); store != nil {
				store.Save(workspaceStateID(env.ProjectDir, workspace), res)
			}

			printGateRun(res)
			if !res.OK {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	gatesStatusCmd = &cobra.Command{
		Use:   "status [workspace]",
		Short: "Show the last gate run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}
			store := gateStore(env)
			if store == nil {
				fmt.Println(SubtitleStyle.Render("no recorded run"))
				return nil
			}
			res := store.Load(workspaceStateID(env.ProjectDir, workspaceArg(args)))
			if res == nil {
				fmt.Println(SubtitleStyle.Render("no recorded run"))
				return nil
			}
			fmt.Println(SubtitleStyle.Render("last run: ") + res.StartedAt.Format(time.RFC3339))
			printGateRun(res)
			return nil
		},
	}
)

func init() {
	gatesCmd.AddCommand(gatesRunCmd)
	gatesCmd.AddCommand(gatesStatusCmd)
}

func workspaceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func gateStore(env *environment) *gate.Store {
	dir, err := config.GatesDir()
	if err != nil {
		env.Logger.Warn("resolving gate state dir", "err", err)
		return nil
	}
	return gate.NewStore(dir, env.Logger)
}

func printGateRun(res *gate.RunResult) {
	for _, g := range res.Results {
		mark := SuccessStyle.Render("✓")
		if g.ExitCode != 0 {
			mark = ErrorStyle.Render("✗")
		}
		fmt.Printf("%s %s %s\n", mark, g.Name, SubtitleStyle.Render(fmt.Sprintf("(%dms)", g.DurationMs)))
		if g.ExitCode != 0 {
			if g.Stdout != "" {
				fmt.Print(g.Stdout)
			}
			if g.Stderr != "" {
				fmt.Fprint(os.Stderr, g.Stderr)
			}
		}
	}
	if res.OK {
		fmt.Println(SuccessStyle.Render(fmt.Sprintf("All gates passed in %dms", res.TotalDurationMs)))
	} else {
		fmt.Println(ErrorStyle.Render("Gates failed"))
	}
}
