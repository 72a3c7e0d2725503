package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/model"
)

// StatusResult is the payload reported by the status command.
type StatusResult struct {
	User         string `json:"user"`
	Policy       string `json:"policy"`
	Channel      string `json:"channel"`
	PendingRows  int    `json:"pending_rows"`
	Digest       string `json:"digest"`
	Goals        int    `json:"goals"`
	Events       int    `json:"events"`
	DayProgress  int    `json:"day_progress"`
	ProgressDate string `json:"progress_date"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local sync state",
		Long: `Show the configured user, local collection sizes, the canonical state
digest and the completion percentage for a day (today by default).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd, date)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to report progress for (YYYY-MM-DD, default today)")
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command, date string) error {
	a, err := setup(opts)
	if err != nil {
		return err
	}
	defer a.close()

	if date == "" {
		date = model.DateKey(time.Now())
	} else if !model.ValidDateKey(date) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
	}

	a.store.SetUser(a.cfg.UserID)
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
	result := StatusResult{
		User:         a.cfg.UserID,
		Policy:       a.cfg.Policy,
		Channel:      string(a.reconciler.Status()),
		PendingRows:  a.engine.QueueLen(),
		Digest:       digest,
		Goals:        len(a.store.Goals()),
		Events:       len(a.store.Events()),
		DayProgress:  a.store.DayProgress(date),
		ProgressDate: date,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:         %s\n", result.User)
	fmt.Fprintf(out, "Policy:       %s\n", result.Policy)
	fmt.Fprintf(out, "Channel:      %s\n", result.Channel)
	fmt.Fprintf(out, "Pending rows: %d\n", result.PendingRows)
	fmt.Fprintf(out, "Goals:        %d\n", result.Goals)
	fmt.Fprintf(out, "Events:       %d\n", result.Events)
	fmt.Fprintf(out, "Progress:     %d%% on %s\n", result.DayProgress, result.ProgressDate)
	fmt.Fprintf(out, "Digest:       %s\n", result.Digest)
	return nil
}
