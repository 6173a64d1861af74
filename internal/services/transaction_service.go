package services

import (
	"context"
	"fmt"

	"finanzas/internal/core"
	"finanzas/internal/storage"
)

// TransactionService wraps the store with the ownership rules the API
// enforces: anyone reads, only the creator mutates.
type TransactionService struct {
	storage *storage.SQLiteRepository
}

func NewTransactionService(repo *storage.SQLiteRepository) *TransactionService {
	return &TransactionService{storage: repo}
}

func (s *TransactionService) Create(ctx context.Context, t core.Transaction, userID int64) (core.Transaction, error) {
	t.CreatedBy = userID
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	id, err := s.storage.InsertTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	t.ID = id
	return t, nil
}

func (s *TransactionService) Get(ctx context.Context, id int64) (core.Transaction, error) {
	return s.storage.GetTransaction(ctx, id)
}

func (s *TransactionService) List(ctx context.Context, f storage.TransactionFilter) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx, f)
}

func (s *TransactionService) Update(ctx context.Context, t core.Transaction, userID int64) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.storage.UpdateTransaction(ctx, t, userID); err != nil {
		return core.Transaction{}, err
	}
	return s.storage.GetTransaction(ctx, t.ID)
}

func (s *TransactionService) Delete(ctx context.Context, id, userID int64) error {
	return s.storage.DeleteTransaction(ctx, id, userID)
}

func (s *TransactionService) Summary(ctx context.Context) ([]core.UnitSummary, error) {
	return s.storage.Summary(ctx)
}
