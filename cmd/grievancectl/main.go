// Package main provides grievancectl, an operator tool that works directly
// against the service database.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-grievance-risk/internal/app"
	"github.com/mr1hm/go-grievance-risk/internal/config"
	"github.com/mr1hm/go-grievance-risk/internal/logging"
)

var version = "dev"

// cli carries state shared by subcommands.
type cli struct {
	output string
	cfg    *config.Config
}

// open builds the service components for commands that need storage.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg)
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "grievancectl",
		Short: "Operate the grievance risk service",
		Long: `grievancectl runs maintenance tasks against the grievance database:
risk scoring runs, clustering replays, asset backfills and config inspection.

It reads the same environment variables (and .env file) as the server.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "yaml", "Output format: yaml, json")

	rootCmd.AddCommand(newRiskCmd(c))
	rootCmd.AddCommand(newClusterCmd(c))
	rootCmd.AddCommand(newConfigCmd(c))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
