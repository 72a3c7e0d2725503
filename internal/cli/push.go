package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/engine"
)

// PushResult is the payload reported by the push command.
type PushResult struct {
	User   string   `json:"user"`
	Rows   int      `json:"rows"`
	Failed []string `json:"failed,omitempty"`
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upsert all local state to the remote store",
		Long: `Upsert every local row to the remote store. This is a whole-state
overwrite, not a diff: rows edited on another device since the local
mirror was last pulled are clobbered. Under the remote-wins policy the
command refuses to run without --force.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(rootOpts, cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "push even under the remote-wins policy")
	return cmd
}

func runPush(opts *RootOptions, cmd *cobra.Command, force bool) error {
	a, err := setup(opts)
	if err != nil {
		return err
	}
	defer a.close()

	if a.engine.Policy() == engine.PolicyRemoteWins && !force {
		return NewExitError(ExitCommandError,
			"policy is remote-wins: a push would overwrite remote data, rerun with --force")
	}

	a.engine.SetSession(a.cfg.UserID)
	stats := a.engine.Push(cmd.Context())

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	result := PushResult{User: a.cfg.UserID, Rows: stats.Written, Failed: stats.Failed}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d rows for %s\n", result.Rows, result.User)
		if len(result.Failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Failed tables: %s\n", strings.Join(result.Failed, ", "))
		}
	}

	if len(stats.Failed) > 0 {
		return NewExitError(ExitFailure, "push incomplete")
	}
	return nil
}
