package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const RatePrecision = 8

// Exclusive upper bounds matching the NUMERIC(10,2) and NUMERIC(18,8) columns.
var (
	MaxINRAmount   = decimal.New(1, 8)
	MaxTokenAmount = decimal.New(1, 10)
	MaxRate        = decimal.New(1, 10)
)

// CheckAmount returns a field message when d is not positive, carries more
// than precision decimal places or reaches limit, and "" otherwise.
func CheckAmount(d decimal.Decimal, precision int32, limit decimal.Decimal) string {
	switch {
	case !d.IsPositive():
		return "must be greater than zero"
	case !d.Equal(d.Round(precision)):
		return fmt.Sprintf("must have at most %d decimal places", precision)
	case d.GreaterThanOrEqual(limit):
		return "must be less than " + limit.String()
	}
	return ""
}
