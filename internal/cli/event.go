package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/engine"
	"github.com/elevatehq/elevate/internal/model"
)

// NewEventCommand creates the event command group.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage calendar events",
	}
	cmd.AddCommand(newEventAddCommand(rootOpts))
	cmd.AddCommand(newEventListCommand(rootOpts))
	cmd.AddCommand(newEventProgressCommand(rootOpts))
	cmd.AddCommand(newEventDeleteCommand(rootOpts))
	return cmd
}

func newEventAddCommand(rootOpts *RootOptions) *cobra.Command {
	var in engine.EventInput

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Schedule a calendar event",
		Long: `Schedule a calendar event. Start and end are RFC 3339 timestamps; an
optional goal id links the event into that goal's progress.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetSession(a.cfg.UserID)
			in.Title = args[0]
			ev := a.engine.AddEvent(in)
			a.engine.Flush(cmd.Context())

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				return formatter.Success(ev)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled event %s (%s)\n", ev.Title, ev.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.StartTime, "start", "", "start time (RFC 3339)")
	cmd.Flags().StringVar(&in.EndTime, "end", "", "end time (RFC 3339)")
	cmd.Flags().StringVar(&in.GoalID, "goal", "", "linked goal id")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newEventListCommand(rootOpts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List events, optionally for one day",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()
			a.store.SetUser(a.cfg.UserID)

			var events []model.CalendarEvent
			if date == "" {
				events = a.store.Events()
			} else {
				if !model.ValidDateKey(date) {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid date %q: want YYYY-MM-DD", date))
				}
				events = a.store.DayEvents(date)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				return formatter.Success(events)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events.")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s .. %s  %d/%d min\n",
					ev.ID, ev.Title, ev.StartTime, ev.EndTime,
					ev.CompletedDuration, ev.ScheduledMinutes())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "restrict to one day (YYYY-MM-DD)")
	return cmd
}

func newEventProgressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "progress <id> <minutes>",
		Short:         "Record completed minutes for an event",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil || minutes < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid minutes %q", args[1]))
			}

			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetSession(a.cfg.UserID)
			if !a.engine.SetProgress(args[0], minutes) {
				return NewExitError(ExitCommandError, fmt.Sprintf("no event with id %s", args[0]))
			}
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d min on event %s\n", minutes, args[0])
			return nil
		},
	}
}

func newEventDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete an event",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetSession(a.cfg.UserID)
			a.engine.DeleteEvent(args[0])
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s\n", args[0])
			return nil
		},
	}
}
