package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve querygate as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			opts := []mcp.Option{mcp.WithAdvisor(st.advisor), mcp.WithLogger(a.log)}
			if st.history != nil {
				opts = append(opts, mcp.WithHistory(st.history))
			}
			return mcp.New(st.gw, version, opts...).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
