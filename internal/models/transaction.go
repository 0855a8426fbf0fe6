package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	INRPrecision   = 2
	TokenPrecision = 8
)

type Transaction struct {
	ID            int64           `json:"id"`
	MerchantTxID  string          `json:"merchantTxId"`
	UPIID         string          `json:"upiId"`
	INRAmount     decimal.Decimal `json:"inrAmount"`
	TokenAmount   decimal.Decimal `json:"tokenAmount"`
	CryptoType    CryptoType      `json:"cryptoType"`
	Chain         string          `json:"chain"`
	Status        StatusType      `json:"status"`
	TxHash        string          `json:"txHash,omitempty"`
	OnmetaTxID    string          `json:"onmetaTxId,omitempty"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// MarshalJSON renders amounts at their fixed precision ("500.00", "5.91000000").
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		INRAmount   string `json:"inrAmount"`
		TokenAmount string `json:"tokenAmount"`
	}{
		plain:       plain(t),
		INRAmount:   t.INRAmount.StringFixed(INRPrecision),
		TokenAmount: t.TokenAmount.StringFixed(TokenPrecision),
	})
}

type CryptoType string

const (
	CryptoUSDT  CryptoType = "usdt"
	CryptoMATIC CryptoType = "matic"
)

const DefaultChain = "polygon"

// StatusUpdate is one status transition plus the optional provider fields
// that arrive with it. Empty strings leave the stored values untouched.
type StatusUpdate struct {
	Status     StatusType
	TxHash     string
	OnmetaTxID string
}
