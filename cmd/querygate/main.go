package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/config"
	"github.com/pario-ai/querygate/pkg/logging"
)

var version = "dev"

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	debug      bool

	cfg *config.Config
	log *slog.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "querygate",
		Short:         "querygate: caching, rate limiting and error recovery in front of a SQL question backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to querygate config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newMCPCmd(a),
		newClassifyCmd(a),
		newCacheCmd(a),
		newHistoryCmd(a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads .env, the config file and sets up logging. Logs always go to
// stderr; stdout belongs to command output and the MCP stream.
func (a *app) setup() error {
	_ = godotenv.Load()

	cfg := config.Default()
	if a.configPath != "" {
		var err error
		cfg, err = config.Load(a.configPath)
		if err != nil {
			return err
		}
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	a.cfg = cfg
	a.log = logger
	return nil
}
