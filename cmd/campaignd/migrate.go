package main

import (
	"voice-campaigns/internal/migrate"
	"voice-campaigns/pkg/utils"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := utils.OpenPostgres(cmd.Context(), cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxConns: 2})
		if err != nil {
			return err
		}
		defer db.Close()
		return migrate.Migrate(cmd.Context(), db, log)
	},
}
