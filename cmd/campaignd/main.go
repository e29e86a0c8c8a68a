package main

import (
	"fmt"
	"log/slog"
	"os"

	"voice-campaigns/internal/config"
	"voice-campaigns/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "campaignd",
	Short:         "Outbound call campaign billing and state reconciliation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside local development.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		log = logger.New(cfg.App.Env)
		slog.SetDefault(log)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, pollCmd, sweepCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("campaignd failed", "err", err)
		os.Exit(1)
	}
}
