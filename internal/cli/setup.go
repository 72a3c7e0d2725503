package cli

import (
	"log/slog"
	"os"

	"github.com/elevatehq/elevate/internal/engine"
	"github.com/elevatehq/elevate/internal/gateway"
	"github.com/elevatehq/elevate/internal/mirror"
	"github.com/elevatehq/elevate/internal/store"
)

// app bundles the wired components behind every command.
type app struct {
	cfg        *Config
	gw         *gateway.SQLite
	store      *store.Store
	engine     *engine.Engine
	reconciler *engine.Reconciler
}

// setup configures logging, loads the config and wires store, gateway and
// engine. The caller must invoke close when done.
func setup(opts *RootOptions, engineOpts ...engine.Option) (*app, error) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	gw, err := gateway.OpenSQLite(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	st, err := store.Open(mirror.NewFile(cfg.Mirror))
	if err != nil {
		gw.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load local mirror", err)
	}

	engineOpts = append([]engine.Option{
		engine.WithPolicy(engine.Policy(cfg.Policy)),
	}, engineOpts...)
	eng := engine.New(st, gw, engineOpts...)
	rec := engine.NewReconciler(eng, gw, cfg.WatchdogInterval())

	return &app{cfg: cfg, gw: gw, store: st, engine: eng, reconciler: rec}, nil
}

func (a *app) close() {
	a.reconciler.Unsubscribe()
	if err := a.gw.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
