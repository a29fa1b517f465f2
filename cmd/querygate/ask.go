package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/gateway"
	"github.com/pario-ai/querygate/pkg/ratelimit"
)

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question through the gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := a.buildStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ans, err := st.gw.Answer(ctx, strings.Join(args, " "))
			if err != nil && !errors.Is(err, gateway.ErrBackendUnavailable) && !errors.Is(err, ratelimit.ErrRateLimited) {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(ans); err != nil {
					return err
				}
			} else {
				fmt.Println(ans.Response.Render())
				fmt.Fprintf(os.Stderr, "\noutcome: %s", ans.Outcome)
				if ans.ErrorKind != "" {
					fmt.Fprintf(os.Stderr, " (%s, recovered: %t)", ans.ErrorKind, ans.Recovered)
				}
				fmt.Fprintln(os.Stderr)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}
