package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

const rateTracer = "rate-repository"

type PostgresRateRepository struct {
	db *sql.DB
}

func NewPostgresRateRepository(db *sql.DB) *PostgresRateRepository {
	return &PostgresRateRepository{db: db}
}

var _ repository.RateRepository = (*PostgresRateRepository)(nil)

func (r *PostgresRateRepository) Get(ctx context.Context, pair models.CurrencyPair) (_ *models.ExchangeRate, err error) {
	ctx, span, finish := track(ctx, rateTracer, "GetExchangeRate")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("pair", pair.String()))

	var rate models.ExchangeRate
	query := `SELECT from_currency, to_currency, rate, updated_at FROM exchange_rates WHERE from_currency = $1 AND to_currency = $2`
	err = r.db.QueryRowContext(ctx, query, pair.From, pair.To).Scan(&rate.FromCurrency, &rate.ToCurrency, &rate.Rate, &rate.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrRateNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get exchange rate", "method", "Get", "pair", pair.String(), "error", err)
		err = fmt.Errorf("failed to get exchange rate: %w", err)
		return nil, err
	}
	return &rate, nil
}

func (r *PostgresRateRepository) Upsert(ctx context.Context, pair models.CurrencyPair, value decimal.Decimal) (_ *models.ExchangeRate, err error) {
	ctx, span, finish := track(ctx, rateTracer, "UpsertExchangeRate")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("pair", pair.String()))

	var rate models.ExchangeRate
	query := `INSERT INTO exchange_rates (from_currency, to_currency, rate, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (from_currency, to_currency) DO UPDATE SET rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at
RETURNING from_currency, to_currency, rate, updated_at`
	err = r.db.QueryRowContext(ctx, query, pair.From, pair.To, value.String()).
		Scan(&rate.FromCurrency, &rate.ToCurrency, &rate.Rate, &rate.UpdatedAt)
	if err != nil {
		slog.Error("failed to upsert exchange rate", "method", "Upsert", "pair", pair.String(), "error", err)
		err = fmt.Errorf("failed to upsert exchange rate: %w", err)
		return nil, err
	}

	slog.Info("exchange rate upserted", "method", "Upsert", "pair", pair.String(), "rate", rate.Rate.String())
	return &rate, nil
}
