package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elevatehq/elevate/internal/gateway"
	"github.com/elevatehq/elevate/internal/session"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		Long: `Start the elevate sync daemon.

The daemon binds the configured user session, performs the initial sync
per policy, subscribes to the realtime change feed and keeps draining
queued remote writes until interrupted.

Example:
  elevate run --config elevate.yaml
  elevate run -c /tmp/test.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	a, err := setup(opts)
	if err != nil {
		return err
	}
	defer a.close()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	auth := gateway.NewStaticAuth(a.cfg.UserID)
	binder := session.New(auth, a.engine, a.reconciler)

	// Drain write results so failures stay visible in the log stream and
	// the buffer never fills.
	go func() {
		for res := range a.engine.Results() {
			if res.Err != nil {
				slog.Warn("write not persisted remotely",
					"table", res.Table, "op", res.Op, "seq", res.Seq)
			}
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- binder.Run(ctx) }()
	go func() { errCh <- a.engine.Run(ctx) }()

	slog.Info("daemon started", "user", a.cfg.UserID, "db", a.cfg.Database)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync daemon started. Press Ctrl-C to stop.")

	runErr := <-errCh
	cancel()
	<-errCh

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "daemon error", runErr)
	}
	slog.Info("daemon stopped gracefully")
	return nil
}
