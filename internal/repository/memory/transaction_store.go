package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

// TransactionStore keeps transactions in process memory. A single mutex
// serializes writers, so duplicate merchant ids and racing status updates
// resolve deterministically.
type TransactionStore struct {
	mu         sync.RWMutex
	byID       map[int64]*models.Transaction
	byMerchant map[string]int64
	nextID     int64
	now        func() time.Time
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byID:       make(map[int64]*models.Transaction),
		byMerchant: make(map[string]int64),
		nextID:     1,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *TransactionStore) WithClock(now func() time.Time) *TransactionStore {
	s.now = now
	return s
}

var _ repository.TransactionRepository = (*TransactionStore)(nil)

func (s *TransactionStore) Create(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error) {
	tx, err := draft.Build()
	if err != nil {
		slog.Error("invalid transaction draft", "method", "Create", "merchant_tx_id", draft.MerchantTxID, "error", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMerchant[tx.MerchantTxID]; exists {
		slog.Error("duplicate merchant tx id", "method", "Create", "merchant_tx_id", tx.MerchantTxID)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrDuplicateMerchantTxID, tx.MerchantTxID)
	}

	now := s.now()
	tx.ID = s.nextID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.nextID++
	s.byID[tx.ID] = tx
	s.byMerchant[tx.MerchantTxID] = tx.ID

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "merchant_tx_id", tx.MerchantTxID)
	out := *tx
	return &out, nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	out := *tx
	return &out, nil
}

func (s *TransactionStore) GetByMerchantTxID(ctx context.Context, merchantTxID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMerchant[merchantTxID]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

func (s *TransactionStore) UpdateStatus(ctx context.Context, id int64, update models.StatusUpdate) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}

	next := *tx
	if err := next.Apply(update, s.now()); err != nil {
		slog.Warn("status transition rejected", "method", "UpdateStatus", "id", id, "from", tx.Status, "to", update.Status)
		return nil, err
	}
	*tx = next

	slog.Info("transaction status updated", "method", "UpdateStatus", "id", id, "status", next.Status)
	return &next, nil
}

func (s *TransactionStore) ListRecent(ctx context.Context, limit int) ([]models.Transaction, error) {
	limit = repository.NormalizeLimit(limit)

	s.mu.RLock()
	all := make([]models.Transaction, 0, len(s.byID))
	for _, tx := range s.byID {
		all = append(all, *tx)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
