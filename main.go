// Gridsim drives gridworld reinforcement learning simulations hosted by an external engine,
// and serves them to browsers as live, step-by-step views.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gridsim/config"
	"gridsim/engine"
	"gridsim/engine/enginetest"
	"gridsim/logging"
	"gridsim/preset"
	"gridsim/session"
	"gridsim/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app is the state shared by all commands, filled in before any of them runs.
type app struct {
	cfg *config.AppConfig
	ctx context.Context
}

func main() {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(ctx).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(ctx context.Context) *cobra.Command {
	a := &app{ctx: ctx}

	rootCmd := &cobra.Command{
		Use:   "gridsim",
		Short: "Drive and visualize gridworld reinforcement learning simulations",
		Long: `gridsim configures gridworld simulations on an external RL engine,
steps them one at a time or on a timer, and streams every change to
browsers over websockets. History is kept in a local SQLite database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a yaml config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("stub", false, "Use the in-memory engine instead of dialing one")

	rootCmd.AddCommand(
		newServeCmd(a),
		newDriveCmd(a),
		newHistoryCmd(a),
		newPresetsCmd(a),
	)
	return rootCmd
}

// load reads the config and installs the logger; flags win over the file and environment.
func (a *app) load(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if stub, _ := cmd.Flags().GetBool("stub"); stub {
		cfg.Engine.Stub = true
	}

	a.cfg = cfg
	a.ctx = logging.WithLogger(a.ctx, logging.NewLogger(cfg.Log.Level, cmd.ErrOrStderr()))
	return nil
}

// gateway returns the configured engine and a func releasing it.
func (a *app) gateway() (engine.Gateway, func()) {
	if a.cfg.Engine.Stub {
		stub := enginetest.NewStub()
		stub.Latency = a.cfg.Engine.StubLatency
		logging.FromContext(a.ctx).Info("using in-memory engine")
		return stub, func() {}
	}

	gw := engine.NewWSGateway(a.cfg.Engine.URL, engine.WSOptions{
		CallTimeout: a.cfg.Engine.CallTimeout,
		RunTimeout:  a.cfg.Engine.RunTimeout,
		DialTimeout: a.cfg.Engine.DialTimeout,
	})
	return gw, gw.Close
}

// history opens the history store, or returns nil if history is disabled.
func (a *app) history() (*store.Store, error) {
	if a.cfg.Store.Path == "" {
		return nil, nil
	}
	return store.Open(a.ctx, a.cfg.Store.Path)
}

func (a *app) catalog() (*preset.Catalog, error) {
	catalog := preset.Builtins()
	if err := catalog.LoadFiles(a.cfg.Session.PresetFiles...); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (a *app) sessionOptions(st *store.Store) session.Options {
	opts := session.Options{
		CumulativeWindow: a.cfg.Session.CumulativeWindow,
		EpisodicWindow:   a.cfg.Session.EpisodicWindow,
	}
	if st != nil {
		opts.Recorder = st
	}
	return opts
}
