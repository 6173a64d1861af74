package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finanzas/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Bulk-load business unit spreadsheets into the finanzas database",
	Long: `importer reads the partner spreadsheets (Excel, Google Sheets or an
in-memory fixture), normalizes and validates every row, and loads the
accepted ones into SQLite. Rows that fail validation are reported with
every reason collected, and the run ends with a per-sheet summary.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func main() {
	cli.LoadEnvFile()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
