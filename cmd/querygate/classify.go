package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/classify"
)

func newClassifyCmd(a *app) *cobra.Command {
	var question string

	cmd := &cobra.Command{
		Use:   "classify [error text]",
		Short: "Classify a database error and print the suggested fix (reads stdin when no text is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.Join(args, " ")
			if raw == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = string(data)
			}
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return fmt.Errorf("no error text given")
			}

			adv, err := a.advisor()
			if err != nil {
				return err
			}

			m := classify.Match(raw)
			fmt.Printf("Kind:     %s (%s)\n", m.Kind, m.Kind.Title())
			if m.Token != "" {
				fmt.Printf("Token:    %s\n", m.Token)
			}
			fmt.Printf("Critical: %t\n\n", classify.IsCritical(raw))

			text, ok := adv.Suggest(m.Kind, raw, question)
			if !ok {
				text = adv.Explain(m.Kind, raw)
			}
			fmt.Println(text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&question, "question", "q", "", "question that produced the error (selects date templates)")
	return cmd
}
