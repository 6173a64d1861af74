package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finanzas/internal/amqp"
	"finanzas/internal/cli"
	"finanzas/internal/ingest"
	"finanzas/internal/log"
	"finanzas/internal/services"
	"finanzas/internal/workbook"
	gsheet "finanzas/internal/workbook/google"
	"finanzas/internal/worker"
)

// Sheet the ledger worker mirrors recorded payments into.
const ledgerSheet = "Pagos"

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentWorker, os.Getenv("LOG_LEVEL"))
	logger.Info("starting finanzas-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	rules, err := ingest.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Error("failed to load business rules", log.FieldError, err, log.FieldPath, cfg.RulesPath)
		os.Exit(1)
	}

	// The ledger mirror needs an appendable workbook; only the Google
	// Sheets backend supports appends. Without it recorded payments are
	// consumed and dropped with a warning.
	var appender workbook.Appender
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleCredentialsFile)
		if err != nil {
			logger.Error("failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		appender = client
		logger.Info("ledger mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, log.FieldSheet, ledgerSheet)
	} else {
		logger.Info("ledger mirror disabled, no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := worker.NewLedgerWorker(repo, appender, ledgerSheet)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumePaymentRecorded(gctx, func(msg *amqp.PaymentRecordedMessage) error {
			return ledger.HandlePaymentRecorded(gctx, msg)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	payments := services.NewPaymentService(repo, nil, rules,
		services.NewThresholdChecker(cfg.OverdueAfterDays))
	scanner := worker.NewDuenessScanner(payments, cfg.DuenessScanInterval, logger)
	if err := scanner.Start(ctx); err != nil {
		logger.Error("failed to start dueness scanner", log.FieldError, err)
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(stopCtx context.Context) {
		if err := scanner.Stop(stopCtx); err != nil {
			logger.Error("dueness scanner stop error", log.FieldError, err)
		}
	})

	select {
	case <-shutdownCtx.Done():
		<-done
	case <-gctx.Done():
		logger.Info("consumer stopped")
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("message consumption failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("worker shutdown complete")
}
