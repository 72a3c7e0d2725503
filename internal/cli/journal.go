package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/model"
)

// NewJournalCommand creates the journal command group. Memos share the
// same shape under a separate subcommand.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Manage journal and memo entries",
	}
	cmd.AddCommand(newEntrySetCommand(rootOpts, "set", "journal entry", func(a *app, date, content string) {
		a.engine.SetJournal(date, content)
	}))
	cmd.AddCommand(newEntryShowCommand(rootOpts, "show", "journal entry", func(a *app, date string) string {
		return a.store.Journal(date)
	}))
	cmd.AddCommand(newEntrySetCommand(rootOpts, "memo", "memo", func(a *app, date, content string) {
		a.engine.SetMemo(date, content)
	}))
	return cmd
}

func newEntrySetCommand(rootOpts *RootOptions, use, noun string, set func(*app, string, string)) *cobra.Command {
	return &cobra.Command{
		Use:           fmt.Sprintf("%s <date> <content>", use),
		Short:         fmt.Sprintf("Write the %s for a date", noun),
		Args:          cobra.ExactArgs(2),
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

			a.engine.SetSession(a.cfg.UserID)
			set(a, date, args[1])
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s for %s\n", noun, date)
			return nil
		},
	}
}

func newEntryShowCommand(rootOpts *RootOptions, use, noun string, get func(*app, string) string) *cobra.Command {
	return &cobra.Command{
		Use:           fmt.Sprintf("%s <date>", use),
		Short:         fmt.Sprintf("Show the %s for a date", noun),
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

			content := get(a, date)
			if content == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s for %s\n", noun, date)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}
