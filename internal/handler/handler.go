package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
	service "github.com/honeynil/upi-crypto-offramp/internal/services"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

type Handler struct {
	service service.PaymentService
}

func NewHandler(s service.PaymentService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error,omitempty"`
	Fields  []pkgerrors.FieldError `json:"errors,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := errorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		var verr *pkgerrors.ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Fields
		}
	}
	h.writeJSON(w, status, resp)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrUnsupportedToken):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrRateNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrDuplicateMerchantTxID),
		errors.Is(err, pkgerrors.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/exchange-rate/{from}/{to}", h.GetExchangeRate).Methods("GET")
	api.HandleFunc("/exchange-rate/{from}/{to}", h.PutExchangeRate).Methods("PUT")
	api.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	api.HandleFunc("/transactions", h.ListTransactions).Methods("GET")
	api.HandleFunc("/transactions/{id:[0-9]+}", h.GetTransaction).Methods("GET")
	api.HandleFunc("/initiate-payment", h.InitiatePayment).Methods("POST")
	api.HandleFunc("/onmeta-webhook", h.OnmetaWebhook).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// amount accepts a JSON string or number, keeping its literal text.
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a string or a number")
	}
	*a = amount(n.String())
	return nil
}

// value returns the amount, or zero when it is empty or not a number.
func (a amount) value() decimal.Decimal {
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero
	}
	return d
}

type quoteResponse struct {
	*models.ExchangeRate
	INRAmount   string `json:"inrAmount"`
	TokenAmount string `json:"tokenAmount"`
}

// GetExchangeRate returns the pair's rate. With ?inrAmount= it also quotes
// the token amount that sells for that much INR.
func (h *Handler) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var inr decimal.Decimal
	if raw := r.URL.Query().Get("inrAmount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err == nil {
			if msg := models.CheckAmount(d, models.INRPrecision, models.MaxINRAmount); msg != "" {
				err = errors.New("inrAmount " + msg)
			}
		}
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
		inr = d
	}

	vars := mux.Vars(r)
	rate, err := h.service.GetExchangeRate(r.Context(), vars["from"], vars["to"])
	if err != nil {
		if errors.Is(err, pkgerrors.ErrRateNotFound) {
			h.writeError(w, http.StatusNotFound, "Exchange rate not found", nil)
			return
		}
		h.writeError(w, statusFor(err), "Failed to fetch exchange rate", err)
		return
	}
	if inr.IsZero() {
		h.writeJSON(w, http.StatusOK, rate)
		return
	}
	h.writeJSON(w, http.StatusOK, quoteResponse{
		ExchangeRate: rate,
		INRAmount:    inr.StringFixed(models.INRPrecision),
		TokenAmount:  rate.TokenAmountFor(inr).String(),
	})
}

func (h *Handler) PutExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate amount `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	vars := mux.Vars(r)
	rate, err := h.service.UpsertExchangeRate(r.Context(), vars["from"], vars["to"], req.Rate.value())
	if err != nil {
		h.writeError(w, statusFor(err), "Failed to update exchange rate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rate)
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantTxID  string `json:"merchantTxId"`
		UPIID         string `json:"upiId"`
		INRAmount     amount `json:"inrAmount"`
		TokenAmount   amount `json:"tokenAmount"`
		CryptoType    string `json:"cryptoType"`
		Chain         string `json:"chain"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction data", err)
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), models.TransactionDraft{
		MerchantTxID:  req.MerchantTxID,
		UPIID:         req.UPIID,
		INRAmount:     string(req.INRAmount),
		TokenAmount:   string(req.TokenAmount),
		CryptoType:    req.CryptoType,
		Chain:         req.Chain,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		status := statusFor(err)
		message := "Failed to create transaction"
		if status == http.StatusBadRequest {
			message = "Invalid transaction data"
		}
		h.writeError(w, status, message, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		h.writeError(w, statusFor(err), "Failed to fetch transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	// unparsable limits fall back to the default
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	txs, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.writeError(w, statusFor(err), "Failed to fetch transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

type initiateResponse struct {
	Success         bool            `json:"success"`
	OnmetaResponse  json.RawMessage `json:"onmeta_response,omitempty"`
	OrderID         string          `json:"order_id"`
	ReceiverAddress string          `json:"receiver_address,omitempty"`
	GasEstimate     json.RawMessage `json:"gas_estimate,omitempty"`
	Quote           json.RawMessage `json:"quote,omitempty"`
	TokenSymbol     string          `json:"token_symbol"`
	TokenAmount     string          `json:"token_amount"`
}

// InitiatePayment sells USDT when usdtAmount is positive, otherwise MATIC
// when maticAmount is.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantTxID  string `json:"merchantTxId"`
		UPIID         string `json:"upiId"`
		INRAmount     amount `json:"inrAmount"`
		USDTAmount    amount `json:"usdtAmount"`
		MATICAmount   amount `json:"maticAmount"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment request", err)
		return
	}

	symbol, tokenAmount := "USDT", req.USDTAmount.value()
	if !tokenAmount.IsPositive() && req.MATICAmount.value().IsPositive() {
		symbol, tokenAmount = "MATIC", req.MATICAmount.value()
	}

	res, err := h.service.InitiatePayment(r.Context(), service.InitiateRequest{
		MerchantTxID:  strings.TrimSpace(req.MerchantTxID),
		UPIID:         strings.TrimSpace(req.UPIID),
		INRAmount:     req.INRAmount.value(),
		TokenAmount:   tokenAmount,
		TokenSymbol:   symbol,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
	})
	if err != nil {
		observability.WithContext(r.Context()).Error("payment initiation error", "merchant_tx_id", req.MerchantTxID, "error", err)
		h.writeError(w, statusFor(err), "Failed to initiate payment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, initiateResponse{
		Success:         true,
		OnmetaResponse:  res.ProviderRaw,
		OrderID:         res.OrderID,
		ReceiverAddress: res.ReceiverAddress,
		GasEstimate:     res.GasEstimate,
		Quote:           res.Quote,
		TokenSymbol:     res.TokenSymbol,
		TokenAmount:     res.TokenAmount.String(),
	})
}

func (h *Handler) OnmetaWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantTxID string `json:"merchant_tx_id"`
		Status       string `json:"status"`
		UPIID        string `json:"upi_id"`
		Amount       amount `json:"amount"`
		TxHash       string `json:"tx_hash"`
		OnmetaTxID   string `json:"onmeta_tx_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), models.WebhookPayload{
		MerchantTxID:  req.MerchantTxID,
		Status:        req.Status,
		UPIID:         req.UPIID,
		Amount:        string(req.Amount),
		TxHash:        req.TxHash,
		OnmetaOrderID: req.OnmetaTxID,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Webhook processing failed", err)
		return
	}

	resp := map[string]bool{"success": true}
	if res.Outcome == service.WebhookIgnored {
		resp["ignored"] = true
	}
	h.writeJSON(w, http.StatusOK, resp)
}
