package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"finanzas/internal/cli"
	"finanzas/internal/config"
	"finanzas/internal/ingest"
	"finanzas/internal/log"
	"finanzas/internal/storage"
	"finanzas/internal/workbook"
	"finanzas/internal/workbook/excel"
	gsheet "finanzas/internal/workbook/google"
)

var (
	flagBackend      string
	flagWorkbook     string
	flagRules        string
	flagDB           string
	flagReload       bool
	flagEnsureSchema bool
	flagBatch        int
	flagBudget       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one import pass",
	Long: `run executes a single import: connect to the database, verify the
schema, optionally clear previously imported rows, then load every
recognized sheet. The process exits non-zero when the run aborts, so a
cron wrapper can alert on it.

With --reload the previously imported transactions, payments and students
are cleared first; without it the import appends, and rows colliding with
existing unique keys are reported as rejected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&flagBackend, "backend", "", "workbook backend: excel or gsheets (default from WORKBOOK_BACKEND)")
	runCmd.Flags().StringVar(&flagWorkbook, "workbook", "", "path to the .xlsx workbook (excel backend)")
	runCmd.Flags().StringVar(&flagRules, "rules", "", "path to the business rules file")
	runCmd.Flags().StringVar(&flagDB, "db", "", "path to the SQLite database")
	runCmd.Flags().BoolVar(&flagReload, "reload", false, "clear previously imported rows before loading")
	runCmd.Flags().BoolVar(&flagEnsureSchema, "ensure-schema", false, "create missing tables instead of aborting")
	runCmd.Flags().IntVar(&flagBatch, "batch", 0, "rows per progress batch (default from IMPORT_BATCH_SIZE)")
	runCmd.Flags().DurationVar(&flagBudget, "budget", 0, "wall-clock budget for the whole run (default from IMPORT_BUDGET)")
}

func runImport() error {
	logger := cli.SetupLogger(log.ComponentLoader, os.Getenv("LOG_LEVEL"))

	cfg := config.Load()
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	rules, err := ingest.LoadRules(cfg.RulesPath)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	source, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer source.Close()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	loader := ingest.NewLoader(repo, source, rules, logger, ingest.LoaderConfig{
		BatchSize:    cfg.ImportBatchSize,
		Budget:       cfg.ImportBudget,
		Reload:       flagReload,
		EnsureSchema: flagEnsureSchema,
	})

	report, err := loader.Run(context.Background())
	if report != nil {
		fmt.Print(report.String())
	}
	if err != nil {
		return fmt.Errorf("import aborted: %w", err)
	}
	return nil
}

// applyFlags lets command-line flags override the environment config.
func applyFlags(cfg *config.Config) {
	if flagBackend != "" {
		cfg.WorkbookBackend = flagBackend
	}
	if flagWorkbook != "" {
		cfg.WorkbookPath = flagWorkbook
	}
	if flagRules != "" {
		cfg.RulesPath = flagRules
	}
	if flagDB != "" {
		cfg.SQLiteDBPath = flagDB
	}
	if flagBatch > 0 {
		cfg.ImportBatchSize = flagBatch
	}
	if flagBudget > 0 {
		cfg.ImportBudget = flagBudget
	}
}

func openSource(cfg *config.Config) (workbook.Source, error) {
	switch cfg.WorkbookBackend {
	case config.BackendExcel:
		return excel.Open(cfg.WorkbookPath)
	case config.BackendGSheets:
		return gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleCredentialsFile)
	default:
		return nil, fmt.Errorf("backend %q cannot serve an import", cfg.WorkbookBackend)
	}
}
