package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrRateNotFound          = errors.New("exchange rate not found")
	ErrDuplicateMerchantTxID = errors.New("merchant transaction id already exists")
	ErrInvalidAmount         = errors.New("invalid token amount")
	ErrInvalidStatus         = errors.New("invalid transaction status")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrUnsupportedToken      = errors.New("unsupported token")
	ErrValidation            = errors.New("validation failed")
	ErrProvider              = errors.New("offramp provider error")
)

type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

// ValidationError lists every rejected field of a request.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Field + " " + f.Msg)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ProviderError is a non-2xx or unreadable response from the offramp provider.
type ProviderError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProviderError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("onmeta api error: %d - %s: %s", e.StatusCode, e.Reason, e.Body)
	}
	return fmt.Sprintf("onmeta api error: %d - %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}
