package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
)

// RateRepository keeps the single live quote per currency pair.
type RateRepository interface {
	Get(ctx context.Context, pair models.CurrencyPair) (*models.ExchangeRate, error)
	Upsert(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal) (*models.ExchangeRate, error)
}
