package models

// WebhookPayload is a status callback delivered by the offramp provider.
type WebhookPayload struct {
	MerchantTxID  string
	Status        string
	UPIID         string
	Amount        string
	TxHash        string
	OnmetaOrderID string
}
