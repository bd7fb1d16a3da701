package main

import (
	"context"
	"os"

	"github.com/mcphub-dev/mcphub/internal/app"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "mcphub",
		Short:         "MCP tool server directory: crawler, health prober, scorer, and API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API with scheduled background jobs",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.RunServer(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.Migrate(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "crawl",
			Short: "Run one GitHub discovery crawl and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.RunCrawl(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "health-check",
			Short: "Run one health probe cycle and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.RunHealthCheck(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "score",
			Short: "Run one quality scoring pass and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return app.RunScore(cmd.Context(), configPath)
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
