// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muxrun/mux/internal/hook"
	"github.com/muxrun/mux/internal/runtime"
)

var (
	execWorkspace string
	execCwd       string
	execTimeout   time.Duration
	execEnv       []string

	execCmd = &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Run a command in a workspace",
		Long: `Run a command through the project's runtime, in the given workspace.

The command goes through the project's tool hook (.mux/hooks/tool) when one
exists: the hook can block the command before it runs or annotate its result.
The command's exit code becomes mux's exit code.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment()
			if err != nil {
				return cliError(err)
			}

			command := strings.Join(args, " ")
			opts := runtime.ExecOptions{
				Cwd:     execCwd,
				Timeout: execTimeout,
				Env:     parseEnvAssignments(execEnv),
			}
			if execWorkspace != "" && opts.Cwd == "" {
				opts.Cwd = env.Runtime.WorkspacePath(env.ProjectDir, execWorkspace)
			}

			input, _ := json.Marshal(map[string]string{"command": command})
			var out *runtime.Output
			runner := hook.NewRunner(env.ProjectDir, env.Logger)
			outcome, err := runner.Run(cmd.Context(), hook.Invocation{
				ToolName:    "exec",
				Input:       input,
				WorkspaceID: workspaceStateID(env.ProjectDir, execWorkspace),
				ProjectDir:  env.ProjectDir,
				TempDir:     os.TempDir(),
			}, func(ctx context.Context) (*hook.ToolResult, error) {
				o, runErr := env.Runtime.Run(ctx, command, opts)
				if runErr != nil {
					return nil, runErr
				}
				out = o
				return &hook.ToolResult{Text: o.Stdout}, nil
			})
			if err != nil {
				return cliError(err)
			}

			if outcome.Blocked {
				fmt.Fprintln(os.Stderr, WarningStyle.Render("Blocked by hook:"))
				fmt.Fprintln(os.Stderr, outcome.BlockedOutput)
				return &ExitError{Code: 2}
			}

			fmt.Print(out.Stdout)
			fmt.Fprint(os.Stderr, out.Stderr)
			if outcome.Result.HookOutput != "" {
				fmt.Fprintln(os.Stderr, SubtitleStyle.Render("hook: ")+outcome.Result.HookOutput)
			}
			if out.ExitCode != 0 {
				return &ExitError{Code: out.ExitCode}
			}
			return nil
		},
	}
)

func init() {
	execCmd.Flags().StringVarP(&execWorkspace, "workspace", "w", "", "workspace to run in")
	execCmd.Flags().StringVar(&execCwd, "cwd", "", "working directory (overrides --workspace)")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "kill the command after this duration")
	execCmd.Flags().StringArrayVarP(&execEnv, "env", "e", nil, "extra environment variables (KEY=VALUE)")
}

func parseEnvAssignments(assignments []string) map[string]string {
	if len(assignments) == 0 {
		return nil
	}
	env := make(map[string]string, len(assignments))
	for _, a := range assignments {
		k, v, _ := strings.Cut(a, "=")
		env[k] = v
	}
	return env
}
