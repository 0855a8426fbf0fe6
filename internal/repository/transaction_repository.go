package repository

import (
	"context"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
)

const DefaultListLimit = 10

// TransactionRepository is the authoritative record of payment attempts.
// UpdateStatus enforces models.CanTransition atomically with its read.
type TransactionRepository interface {
	Create(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByMerchantTxID(ctx context.Context, merchantTxID string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, update models.StatusUpdate) (*models.Transaction, error)
	ListRecent(ctx context.Context, limit int) ([]models.Transaction, error)
}

const MaxListLimit = 100

// NormalizeLimit applies the default and upper bound to a list limit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
