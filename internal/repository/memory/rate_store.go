package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

type RateStore struct {
	mu    sync.RWMutex
	rates map[models.CurrencyPair]models.ExchangeRate
	now   func() time.Time
}

func NewRateStore() *RateStore {
	return &RateStore{
		rates: make(map[models.CurrencyPair]models.ExchangeRate),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.RateRepository = (*RateStore)(nil)

func (s *RateStore) Get(ctx context.Context, pair models.CurrencyPair) (*models.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[pair]
	if !ok {
		return nil, pkgerrors.ErrRateNotFound
	}
	return &rate, nil
}

func (s *RateStore) Upsert(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal) (*models.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := models.ExchangeRate{
		FromCurrency: pair.From,
		ToCurrency:   pair.To,
		Rate:         rate,
		UpdatedAt:    s.now(),
	}
	s.rates[pair] = r
	return &r, nil
}
