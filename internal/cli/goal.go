package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/engine"
	"github.com/elevatehq/elevate/internal/store"
)

// NewGoalCommand creates the goal command group.
func NewGoalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	cmd.AddCommand(newGoalAddCommand(rootOpts))
	cmd.AddCommand(newGoalListCommand(rootOpts))
	cmd.AddCommand(newGoalRenameCommand(rootOpts))
	cmd.AddCommand(newGoalDeleteCommand(rootOpts))
	return cmd
}

func newGoalAddCommand(rootOpts *RootOptions) *cobra.Command {
	var in engine.GoalInput

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a goal",
		Long: `Create a goal with a fresh id. The goal is written to the local mirror
immediately and upserted remotely before the command exits.`,
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
			g := a.engine.AddGoal(in)
			a.engine.Flush(cmd.Context())

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				return formatter.Success(g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created goal %s (%s)\n", g.Title, g.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Color, "color", "", "display color")
	cmd.Flags().StringVar(&in.Icon, "icon", "", "display icon")
	cmd.Flags().StringVar(&in.Description, "description", "", "goal description")
	cmd.Flags().IntVar(&in.DefaultDuration, "duration", 0, "target minutes")
	cmd.Flags().StringVar(&in.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	return cmd
}

func newGoalListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List goals with progress",
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
			goals := a.store.Goals()

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				return formatter.Success(goals)
			}
			if len(goals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No goals.")
				return nil
			}
			for _, g := range goals {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %3d%%  (%d min target)\n",
					g.ID, g.Title, a.store.GoalProgress(g.ID), g.DefaultDuration)
			}
			return nil
		},
	}
}

func newGoalRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a goal and its linked events",
		Long: `Rename a goal. Calendar events linked to the goal are retitled in the
same step, locally and remotely.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetSession(a.cfg.UserID)
			title := args[1]
			if !a.engine.UpdateGoal(args[0], store.GoalPatch{Title: &title}) {
				return NewExitError(ExitCommandError, fmt.Sprintf("no goal with id %s", args[0]))
			}
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Renamed goal %s to %q\n", args[0], title)
			return nil
		},
	}
}

func newGoalDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a goal",
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
			a.engine.DeleteGoal(args[0])
			a.engine.Flush(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted goal %s\n", args[0])
			return nil
		},
	}
}
