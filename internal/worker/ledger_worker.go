// Package worker runs the background side of the system: mirroring recorded
// payments to the external ledger and scanning enrollments for overdue
// payments.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finanzas/internal/amqp"
	"finanzas/internal/storage"
	"finanzas/internal/workbook"
)

// LedgerWorker mirrors recorded payments to an append-only ledger sheet.
// Deliveries carry identifiers only, so the row is always built from the
// current database state.
type LedgerWorker struct {
	storage  *storage.SQLiteRepository
	appender workbook.Appender
	sheet    string
}

func NewLedgerWorker(repo *storage.SQLiteRepository, appender workbook.Appender, sheet string) *LedgerWorker {
	return &LedgerWorker{
		storage:  repo,
		appender: appender,
		sheet:    sheet,
	}
}

// HandlePaymentRecorded processes one payment event. A missing transaction
// is a permanent failure (the row was cleared or rolled back) and is logged
// and dropped rather than requeued forever.
func (w *LedgerWorker) HandlePaymentRecorded(ctx context.Context, msg *amqp.PaymentRecordedMessage) error {
	if w.appender == nil {
		slog.WarnContext(ctx, "No ledger appender configured, skipping payment event",
			"transaction_id", msg.TransactionID)
		return nil
	}

	tx, err := w.storage.GetTransaction(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Payment transaction no longer exists, dropping event",
			"transaction_id", msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get payment transaction: %w", err)
	}

	student, err := w.storage.GetStudent(ctx, msg.StudentID)
	if err != nil {
		return fmt.Errorf("get student for ledger row: %w", err)
	}

	row := []string{
		tx.Date.ISO(),
		tx.Concept,
		student.Name,
		tx.Counterparty,
		fmt.Sprintf("%d-%02d", msg.Year, msg.Month),
		tx.Total().StringFixed(2),
		tx.PaymentMethod,
	}
	if err := w.appender.AppendRow(ctx, w.sheet, row); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}

	slog.InfoContext(ctx, "Payment mirrored to ledger",
		"transaction_id", msg.TransactionID,
		"student", student.Name,
		"period", fmt.Sprintf("%d-%02d", msg.Year, msg.Month))
	return nil
}
