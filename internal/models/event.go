package models

import "encoding/json"

type EventType string

const (
	EventTransactionCreated EventType = "transaction_created"
	EventTransactionUpdated EventType = "transaction_updated"
	EventPaymentInitiated   EventType = "payment_initiated"
)

// Event is pushed to real-time clients as {"type": ..., payload...}.
type Event struct {
	Type        EventType       `json:"type"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	MerchantTx  string          `json:"transaction_id,omitempty"`
	OnmetaData  json.RawMessage `json:"onmeta_data,omitempty"`
}

// Key groups events of one transaction, e.g. as a partition key.
func (e Event) Key() string {
	if e.Transaction != nil {
		return e.Transaction.MerchantTxID
	}
	return e.MerchantTx
}
