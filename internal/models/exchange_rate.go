package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ExchangeRate struct {
	FromCurrency string          `json:"fromCurrency"`
	ToCurrency   string          `json:"toCurrency"`
	Rate         decimal.Decimal `json:"rate"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CurrencyPair is the composite key of an ExchangeRate. Codes are compared
// case-insensitively.
type CurrencyPair struct {
	From string
	To   string
}

func NewCurrencyPair(from, to string) CurrencyPair {
	return CurrencyPair{
		From: strings.ToLower(strings.TrimSpace(from)),
		To:   strings.ToLower(strings.TrimSpace(to)),
	}
}

func (p CurrencyPair) String() string { return p.From + "/" + p.To }

// TokenAmountFor converts a fiat amount into the token amount quoted by r,
// rounded to token precision.
func (r ExchangeRate) TokenAmountFor(fiat decimal.Decimal) decimal.Decimal {
	if !r.Rate.IsPositive() {
		return decimal.Zero
	}
	return fiat.DivRound(r.Rate, TokenPrecision)
}
