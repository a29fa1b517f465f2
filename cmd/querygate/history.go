package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/models"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query and maintain the query history log",
	}

	cmd.AddCommand(
		newHistorySearchCmd(a),
		newHistoryStatsCmd(a),
		newHistoryCleanupCmd(a),
	)
	return cmd
}

func newHistorySearchCmd(a *app) *cobra.Command {
	var (
		outcome   string
		errorKind string
		since     string
		requestID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			opts := models.QueryLogOpts{
				Outcome:   models.Outcome(outcome),
				ErrorKind: errorKind,
				RequestID: requestID,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatHistoryEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (hit_ephemeral, hit_durable, miss, rate_limited, error)")
	cmd.Flags().StringVar(&errorKind, "error-kind", "", "filter by error kind")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newHistoryStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show history counts by outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatHistoryStats(stats))
			return nil
		},
	}
}

func newHistoryCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete history entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d history entries.\n", deleted)
			return nil
		},
	}
}

func formatHistoryEntries(entries []models.QueryLogEntry) string {
	if len(entries) == 0 {
		return "No history entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-14s %-18s %-9s %8s %-20s %s\n",
		"REQUEST ID", "OUTCOME", "ERROR", "RECOVERED", "LATENCY", "TIME", "QUESTION")
	b.WriteString(strings.Repeat("-", 130) + "\n")
	for _, e := range entries {
		recovered := ""
		if e.Recovered {
			recovered = "yes"
		}
		fmt.Fprintf(&b, "%-36s %-14s %-18s %-9s %6dms %-20s %s\n",
			e.RequestID, e.Outcome, e.ErrorKind, recovered, e.LatencyMs,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Question)
	}
	return b.String()
}

func formatHistoryStats(stats []models.QueryLogStat) string {
	if len(stats) == 0 {
		return "No history stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-12s %8s\n", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 36) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-14s %-12s %8d\n", s.Outcome, s.Day, s.Count)
	}
	return b.String()
}
