package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// PullResult is the payload reported by the pull command.
type PullResult struct {
	User   string   `json:"user"`
	Tables int      `json:"tables"`
	Failed []string `json:"failed,omitempty"`
	Digest string   `json:"digest"`
	Goals  int      `json:"goals"`
	Events int      `json:"events"`
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch remote state into the local store",
		Long: `Fetch all remote rows for the configured user and replace the local
collections. Tables that fail to fetch keep their local data.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(rootOpts, cmd)
		},
	}
	return cmd
}

func runPull(opts *RootOptions, cmd *cobra.Command) error {
	a, err := setup(opts)
	if err != nil {
		return err
	}
	defer a.close()

	a.engine.SetSession(a.cfg.UserID)
	stats := a.engine.Pull(cmd.Context())

	digest, err := a.store.Digest()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compute state digest", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	result := PullResult{
		User:   a.cfg.UserID,
		Tables: stats.Fetched,
		Failed: stats.Failed,
		Digest: digest,
		Goals:  len(a.store.Goals()),
		Events: len(a.store.Events()),
	}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Pulled %d tables for %s (%d goals, %d events)\n",
			result.Tables, result.User, result.Goals, result.Events)
		if len(result.Failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Failed tables: %s\n", strings.Join(result.Failed, ", "))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Digest: %s\n", result.Digest)
	}

	if len(stats.Failed) > 0 {
		return NewExitError(ExitFailure, "pull incomplete")
	}
	return nil
}
