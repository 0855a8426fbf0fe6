package models

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

var upiPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]+@[a-zA-Z0-9.\-_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("upi", func(fl validator.FieldLevel) bool {
		return ValidUPIID(fl.Field().String())
	})
	return v
}

// ValidUPIID reports whether s looks like a UPI handle (name@bank).
func ValidUPIID(s string) bool { return upiPattern.MatchString(s) }

// TransactionDraft is the client-supplied part of a Transaction.
type TransactionDraft struct {
	MerchantTxID  string `json:"merchantTxId" validate:"required,max=128"`
	UPIID         string `json:"upiId" validate:"required,upi,max=255"`
	INRAmount     string `json:"inrAmount" validate:"required"`
	TokenAmount   string `json:"tokenAmount" validate:"required"`
	CryptoType    string `json:"cryptoType" validate:"oneof=usdt matic"`
	Chain         string `json:"chain" validate:"required,max=32"`
	WalletAddress string `json:"walletAddress" validate:"omitempty,eth_addr"`
}

// Build validates the draft and returns a pending Transaction without id or
// timestamps. Every rejected field is reported in one *ValidationError.
func (d TransactionDraft) Build() (*Transaction, error) {
	d.MerchantTxID = strings.TrimSpace(d.MerchantTxID)
	d.UPIID = strings.TrimSpace(d.UPIID)
	d.CryptoType = strings.ToLower(strings.TrimSpace(d.CryptoType))
	d.Chain = strings.ToLower(strings.TrimSpace(d.Chain))
	d.WalletAddress = strings.TrimSpace(d.WalletAddress)
	if d.CryptoType == "" {
		d.CryptoType = string(CryptoUSDT)
	}
	if d.Chain == "" {
		d.Chain = DefaultChain
	}

	var fields []pkgerrors.FieldError
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		for _, fe := range verrs {
			fields = append(fields, pkgerrors.FieldError{Field: fe.Field(), Msg: message(fe)})
		}
	}

	inr, msg := parseAmount(d.INRAmount, INRPrecision, MaxINRAmount)
	if msg != "" && !hasField(fields, "inrAmount") {
		fields = append(fields, pkgerrors.FieldError{Field: "inrAmount", Msg: msg})
	}
	token, msg := parseAmount(d.TokenAmount, TokenPrecision, MaxTokenAmount)
	if msg != "" && !hasField(fields, "tokenAmount") {
		fields = append(fields, pkgerrors.FieldError{Field: "tokenAmount", Msg: msg})
	}
	if len(fields) > 0 {
		return nil, pkgerrors.NewValidationError(fields...)
	}

	return &Transaction{
		MerchantTxID:  d.MerchantTxID,
		UPIID:         d.UPIID,
		INRAmount:     inr.Round(INRPrecision),
		TokenAmount:   token.Round(TokenPrecision),
		CryptoType:    CryptoType(d.CryptoType),
		Chain:         d.Chain,
		Status:        StatusPending,
		WalletAddress: d.WalletAddress,
	}, nil
}

func parseAmount(raw string, precision int32, limit decimal.Decimal) (decimal.Decimal, string) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, "must be a decimal number"
	}
	if msg := CheckAmount(amount, precision, limit); msg != "" {
		return decimal.Zero, msg
	}
	return amount, ""
}

func hasField(fields []pkgerrors.FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "upi":
		return "must be a UPI handle like name@bank"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "eth_addr":
		return "must be a 0x-prefixed wallet address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid"
}
