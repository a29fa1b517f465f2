package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/cache/durable"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the durable answer cache",
	}

	// withStore talks to the store directly so failures surface as errors
	// instead of being absorbed like they are on the answer path.
	withStore := func(fn func(ctx context.Context, s durable.Store) error) error {
		if !a.cfg.Durable.Enabled {
			return errors.New("durable cache is disabled (durable.enabled: false)")
		}
		ctx := context.Background()
		s, err := openStore(ctx, a.cfg.Durable)
		if err != nil {
			return fmt.Errorf("open %s store: %w", a.cfg.Durable.Driver, err)
		}
		defer func() { _ = s.Close() }()
		return fn(ctx, s)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show durable cache row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s durable.Store) error {
				st, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Driver:\t%s\n", a.cfg.Durable.Driver)
				fmt.Fprintf(w, "Total:\t%d\n", st.Total)
				fmt.Fprintf(w, "Active:\t%d\n", st.Active)
				fmt.Fprintf(w, "Expired:\t%d\n", st.Expired)
				return w.Flush()
			})
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s durable.Store) error {
				n, err := s.SweepExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d expired entries.\n", n)
				return nil
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			return withStore(func(ctx context.Context, s durable.Store) error {
				n, err := s.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d entries.\n", n)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing every entry")

	cmd.AddCommand(statsCmd, sweepCmd, clearCmd)
	return cmd
}
