package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/server"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if st.durable != nil {
				if n, err := st.durable.SweepExpired(ctx); err != nil {
					a.log.Warn("startup sweep failed", "error", err)
				} else {
					a.log.Info("startup sweep done", "removed", n)
				}
			}
			if st.metrics != nil {
				st.metrics.RegisterCacheGauges(func() float64 { return float64(st.ephemeral.Len()) })
			}

			if listen == "" {
				listen = a.cfg.Listen
			}
			srv := server.New(server.Options{Listen: listen, APIKeys: a.cfg.APIKeys}, st.gw, st.history, st.metrics, a.log)
			a.log.Info("starting querygate", "config", a.configPath, "version", version)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
