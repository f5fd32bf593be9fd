package main

import (
	"context"

	"gridsim/logging"
	"gridsim/server"
	"gridsim/session"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.cfg.Server.Addr = addr
			}
			return serve(a)
		},
	}
	cmd.Flags().String("addr", "", "Listen address, overriding server.addr")
	return cmd
}

func serve(a *app) error {
	logger := logging.FromContext(a.ctx)

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	st, err := a.history()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	gateway, release := a.gateway()
	defer release()

	mgr := session.NewManager(a.ctx, gateway, a.sessionOptions(st))
	defer mgr.Shutdown(context.WithoutCancel(a.ctx))

	opts := server.Options{
		RunDelay:        a.cfg.Session.RunDelay,
		PublishInterval: a.cfg.Server.PublishInterval,
	}
	if st != nil {
		opts.History = st
	}

	logger.Info("starting", "engine", a.cfg.Engine.URL, "stub", a.cfg.Engine.Stub, "history", a.cfg.Store.Path)
	return server.NewServer(a.ctx, a.cfg.Server.Addr, mgr, catalog, opts).Serve(a.ctx)
}
