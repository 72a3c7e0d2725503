package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/model"
)

// NewScoreCommand creates the score command group.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Manage daily self-assessment scores",
	}
	cmd.AddCommand(newScoreSetCommand(rootOpts))
	cmd.AddCommand(newScoreShowCommand(rootOpts))
	return cmd
}

func newScoreSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <date> <score>",
		Short:         "Record the score for a date",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			date := args[0]
			if !model.ValidDateKey(date) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
			}
			score, err := strconv.Atoi(args[1])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid score %q", args[1]))
			}

			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetSession(a.cfg.UserID)
			a.engine.SetScore(date, score)
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Recorded score %d for %s\n", score, date)
			return nil
		},
	}
}

func newScoreShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <date>",
		Short:         "Show the score for a date",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			date := args[0]
			if !model.ValidDateKey(date) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
			}

			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()
			a.store.SetUser(a.cfg.UserID)

			score, ok := a.store.Score(date)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "No score for %s\n", date)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", score)
			return nil
		},
	}
}
