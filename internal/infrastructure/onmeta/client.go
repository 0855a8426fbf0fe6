package onmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

const (
	createOrderPath = "/offramp/orders/create"
	maxBodyBytes    = 1 << 20
	// Onmeta routes UPI instant payouts through this pseudo bank account.
	instantPayoutAccount = "instant_payout"
	upiIFSC              = "UPI"
)

type BankDetails struct {
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
}

type MetaData struct {
	MerchantTxID string `json:"merchantTxId"`
	UPIID        string `json:"upiId"`
	WebhookURL   string `json:"webhook_url"`
}

// OrderRequest is the body of an offramp order creation call.
type OrderRequest struct {
	SellTokenSymbol     string      `json:"sellTokenSymbol"`
	SellTokenAddress    string      `json:"sellTokenAddress"`
	ChainID             int         `json:"chainId"`
	FiatCurrency        string      `json:"fiatCurrency"`
	FiatAmount          json.Number `json:"fiatAmount"`
	SenderWalletAddress string      `json:"senderWalletAddress"`
	RefundWalletAddress string      `json:"refundWalletAddress"`
	BankDetails         BankDetails `json:"bankDetails"`
	MetaData            MetaData    `json:"metaData"`
}

// UPIBankDetails is the bank block for a UPI instant payout.
func UPIBankDetails() BankDetails {
	return BankDetails{AccountNumber: instantPayoutAccount, IFSC: upiIFSC}
}

// OrderResponse holds the fields read from the provider's reply. The
// provider nests them under "data" on some deployments and not on others;
// Raw is the full body either way.
type OrderResponse struct {
	OrderID         string
	ReceiverAddress string
	GasEstimate     json.RawMessage
	Quote           json.RawMessage
	Raw             json.RawMessage
}

// orderFields is one level of the reply, kept raw so each field is read on
// its own and a field of an unexpected type reads as absent.
type orderFields map[string]json.RawMessage

type Client struct {
	baseURL      string
	apiKey       string
	forwardedFor string
	client       *http.Client
}

func NewClient(baseURL, apiKey, forwardedFor string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		forwardedFor: forwardedFor,
		client:       &http.Client{Timeout: timeout},
	}
}

// CreateOfframpOrder registers a sell order with the provider. Any non-2xx
// status, unreadable body or missing order id is a *ProviderError.
func (c *Client) CreateOfframpOrder(ctx context.Context, req OrderRequest) (_ *OrderResponse, err error) {
	tracer := otel.Tracer("onmeta-client")
	ctx, span := tracer.Start(ctx, "CreateOfframpOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant_tx_id", req.MetaData.MerchantTxID),
		attribute.String("token", req.SellTokenSymbol),
	)

	outcome := "error"
	defer func() {
		observability.ProviderRequests.WithLabelValues(outcome).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	logger := observability.WithContext(ctx, "method", "CreateOfframpOrder", "merchant_tx_id", req.MetaData.MerchantTxID)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createOrderPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("X-Forwarded-For", c.forwardedFor)

	logger.Debug("sending offramp order", "payload", string(body))
	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.Error("offramp order request failed", "error", err)
		outcome = "unreachable"
		return nil, &pkgerrors.ProviderError{Reason: "request failed", Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &pkgerrors.ProviderError{StatusCode: resp.StatusCode, Reason: "failed to read response", Body: err.Error()}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("offramp order rejected", "status", resp.StatusCode, "response", string(raw))
		outcome = "rejected"
		return nil, &pkgerrors.ProviderError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	out, err := parseOrderResponse(raw)
	if err != nil {
		logger.Error("invalid offramp order response", "status", resp.StatusCode, "response", string(raw), "error", err)
		outcome = "malformed"
		return nil, &pkgerrors.ProviderError{StatusCode: resp.StatusCode, Reason: err.Error(), Body: string(raw)}
	}

	outcome = "accepted"
	span.SetAttributes(attribute.String("order_id", out.OrderID))
	logger.Info("offramp order created", "order_id", out.OrderID)
	return out, nil
}

func parseOrderResponse(raw []byte) (*OrderResponse, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON")
	}
	var flat orderFields
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	// data that is not an object leaves nested empty
	var nested orderFields
	_ = json.Unmarshal(flat["data"], &nested)

	out := &OrderResponse{
		OrderID:         pickString(idField, nested["orderId"], flat["orderId"]),
		ReceiverAddress: pickString(stringField, nested["receiverWalletAddress"], flat["receiverWalletAddress"]),
		GasEstimate:     pickRaw(nested["gasUseEstimate"], flat["gasUseEstimate"]),
		Quote:           pickRaw(nested["quote"], flat["quote"]),
		Raw:             json.RawMessage(raw),
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("response has no orderId")
	}
	return out, nil
}

// idField reads an id sent either as a string or as a number.
func idField(raw json.RawMessage) string {
	if s := stringField(raw); s != "" {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// pickString returns the first non-empty value, nested before flat.
func pickString(read func(json.RawMessage) string, candidates ...json.RawMessage) string {
	for _, c := range candidates {
		if v := read(c); v != "" {
			return v
		}
	}
	return ""
}

func pickRaw(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 && !bytes.Equal(c, []byte("null")) {
			return c
		}
	}
	return nil
}
