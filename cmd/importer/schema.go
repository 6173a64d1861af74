package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"finanzas/internal/config"
	"finanzas/internal/storage"
)

var ensureSchemaCmd = &cobra.Command{
	Use:   "ensure-schema",
	Short: "Create or update the database schema without importing",
	Long: `ensure-schema opens the database and applies every pending migration.
The step is idempotent; running it against an up-to-date database is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		applyFlags(cfg)

		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer repo.Close()

		if err := repo.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		fmt.Printf("schema up to date: %s\n", cfg.SQLiteDBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ensureSchemaCmd)

	ensureSchemaCmd.Flags().StringVar(&flagDB, "db", "", "path to the SQLite database")
}
