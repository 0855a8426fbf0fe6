package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/onmeta"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
	"github.com/honeynil/upi-crypto-offramp/internal/repository"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

type PaymentService interface {
	CreateTransaction(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	GetExchangeRate(ctx context.Context, from, to string) (*models.ExchangeRate, error)
	UpsertExchangeRate(ctx context.Context, from, to string, rate decimal.Decimal) (*models.ExchangeRate, error)
	InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	HandleWebhook(ctx context.Context, payload models.WebhookPayload) (*WebhookResult, error)
}

// OrderProvider creates sell orders with the offramp provider.
type OrderProvider interface {
	CreateOfframpOrder(ctx context.Context, req onmeta.OrderRequest) (*onmeta.OrderResponse, error)
}

// EventPublisher hands lifecycle events to the real-time fanout, either the
// local hub or the distributed channel in front of it.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type InitiateRequest struct {
	MerchantTxID  string
	UPIID         string
	INRAmount     decimal.Decimal
	TokenAmount   decimal.Decimal
	TokenSymbol   string
	WalletAddress string
}

type InitiateResult struct {
	OrderID         string
	ReceiverAddress string
	GasEstimate     json.RawMessage
	Quote           json.RawMessage
	ProviderRaw     json.RawMessage
	TokenSymbol     string
	TokenAmount     decimal.Decimal
}

type paymentService struct {
	transactions repository.TransactionRepository
	rates        repository.RateRepository
	provider     OrderProvider
	publisher    EventPublisher
	webhookURL   string
	now          func() time.Time
	newBackOff   func() backoff.BackOff
}

func NewPaymentService(
	transactions repository.TransactionRepository,
	rates repository.RateRepository,
	provider OrderProvider,
	publisher EventPublisher,
	webhookURL string,
) *paymentService {
	return &paymentService{
		transactions: transactions,
		rates:        rates,
		provider:     provider,
		publisher:    publisher,
		webhookURL:   webhookURL,
		now:          func() time.Time { return time.Now().UTC() },
		newBackOff:   defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

func (s *paymentService) CreateTransaction(ctx context.Context, draft models.TransactionDraft) (*models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("merchant_tx_id", draft.MerchantTxID))

	tx, err := s.transactions.Create(ctx, draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create transaction")
		return nil, err
	}

	s.publish(ctx, models.Event{Type: models.EventTransactionCreated, Transaction: tx})
	observability.WithContext(ctx).Info("transaction created",
		"id", tx.ID, "merchant_tx_id", tx.MerchantTxID, "inr_amount", tx.INRAmount.StringFixed(models.INRPrecision))
	return tx, nil
}

func (s *paymentService) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "GetTransaction")
	defer span.End()

	return s.transactions.GetByID(ctx, id)
}

func (s *paymentService) ListTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	return s.transactions.ListRecent(ctx, limit)
}

func (s *paymentService) GetExchangeRate(ctx context.Context, from, to string) (*models.ExchangeRate, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "GetExchangeRate")
	defer span.End()

	return s.rates.Get(ctx, models.NewCurrencyPair(from, to))
}

func (s *paymentService) UpsertExchangeRate(ctx context.Context, from, to string, rate decimal.Decimal) (*models.ExchangeRate, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "UpsertExchangeRate")
	defer span.End()

	pair := models.NewCurrencyPair(from, to)
	var fields []pkgerrors.FieldError
	if pair.From == "" {
		fields = append(fields, pkgerrors.FieldError{Field: "from", Msg: "is required"})
	}
	if pair.To == "" {
		fields = append(fields, pkgerrors.FieldError{Field: "to", Msg: "is required"})
	}
	if msg := models.CheckAmount(rate, models.RatePrecision, models.MaxRate); msg != "" {
		fields = append(fields, pkgerrors.FieldError{Field: "rate", Msg: msg})
	}
	if len(fields) > 0 {
		span.SetStatus(codes.Error, "invalid exchange rate")
		return nil, pkgerrors.NewValidationError(fields...)
	}

	return s.rates.Upsert(ctx, pair, rate)
}

// InitiatePayment places a sell order for a pending transaction and moves it
// to processing. Nothing is sent to the provider unless the amount is
// positive, the token is known and the transaction is still pending.
func (s *paymentService) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "InitiatePayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant_tx_id", req.MerchantTxID),
		attribute.String("token", req.TokenSymbol),
	)
	logger := observability.WithContext(ctx, "method", "InitiatePayment", "merchant_tx_id", req.MerchantTxID)

	fail := func(err error, msg string) (*InitiateResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	if !req.TokenAmount.Round(models.TokenPrecision).IsPositive() {
		logger.Warn("rejected initiation without a positive token amount", "token_amount", req.TokenAmount.String())
		return fail(pkgerrors.ErrInvalidAmount, "invalid token amount")
	}
	token, err := models.LookupToken(req.TokenSymbol)
	if err != nil {
		return fail(fmt.Errorf("%w: %s", err, req.TokenSymbol), "unsupported token")
	}

	tx, err := s.transactions.GetByMerchantTxID(ctx, req.MerchantTxID)
	if err != nil {
		return fail(err, "transaction lookup failed")
	}
	if tx.Status != models.StatusPending {
		logger.Warn("initiation for non-pending transaction", "status", tx.Status, "onmeta_tx_id", tx.OnmetaTxID)
		return fail(fmt.Errorf("%w: transaction is %s", pkgerrors.ErrInvalidTransition, tx.Status), "transaction not pending")
	}

	order := s.orderRequest(tx, req, token)
	if order.SenderWalletAddress == "" {
		return fail(pkgerrors.NewValidationError(pkgerrors.FieldError{Field: "walletAddress", Msg: "is required"}), "missing wallet")
	}

	resp, err := s.provider.CreateOfframpOrder(ctx, order)
	if err != nil {
		logger.Error("payment initiation failed", "error", err)
		return fail(err, "provider rejected order")
	}
	span.SetAttributes(attribute.String("order_id", resp.OrderID))

	s.recordOrder(ctx, tx, resp.OrderID)

	s.publish(ctx, models.Event{
		Type:       models.EventPaymentInitiated,
		MerchantTx: tx.MerchantTxID,
		OnmetaData: resp.Raw,
	})
	logger.Info("payment initiated", "order_id", resp.OrderID, "token", token.Symbol, "token_amount", req.TokenAmount.String())

	return &InitiateResult{
		OrderID:         resp.OrderID,
		ReceiverAddress: resp.ReceiverAddress,
		GasEstimate:     resp.GasEstimate,
		Quote:           resp.Quote,
		ProviderRaw:     resp.Raw,
		TokenSymbol:     token.Symbol,
		TokenAmount:     req.TokenAmount,
	}, nil
}

// orderRequest fills gaps in req from the stored transaction.
func (s *paymentService) orderRequest(tx *models.Transaction, req InitiateRequest, token models.Token) onmeta.OrderRequest {
	upiID := req.UPIID
	if upiID == "" {
		upiID = tx.UPIID
	}
	fiat := req.INRAmount
	if !fiat.IsPositive() {
		fiat = tx.INRAmount
	}
	wallet := req.WalletAddress
	if wallet == "" {
		wallet = tx.WalletAddress
	}

	return onmeta.OrderRequest{
		SellTokenSymbol:     token.Symbol,
		SellTokenAddress:    token.Address,
		ChainID:             models.PolygonChainID,
		FiatCurrency:        "INR",
		FiatAmount:          json.Number(fiat.StringFixed(models.INRPrecision)),
		SenderWalletAddress: wallet,
		RefundWalletAddress: wallet,
		BankDetails:         onmeta.UPIBankDetails(),
		MetaData: onmeta.MetaData{
			MerchantTxID: tx.MerchantTxID,
			UPIID:        upiID,
			WebhookURL:   s.webhookURL,
		},
	}
}

// recordOrder stores the provider order id, retrying transient store
// failures. The provider already holds the order at this point, so the
// write outlives a cancelled request and a final failure is only logged.
func (s *paymentService) recordOrder(ctx context.Context, tx *models.Transaction, orderID string) {
	logger := observability.WithContext(ctx, "method", "recordOrder", "merchant_tx_id", tx.MerchantTxID, "order_id", orderID)
	writeCtx := context.WithoutCancel(ctx)
	update := models.StatusUpdate{Status: models.StatusProcessing, OnmetaTxID: orderID}

	op := func() error {
		_, err := s.transactions.UpdateStatus(writeCtx, tx.ID, update)
		if stderrors.Is(err, pkgerrors.ErrInvalidTransition) || stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying order id write", "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), writeCtx), notify)
	switch {
	case err == nil:
	case stderrors.Is(err, pkgerrors.ErrInvalidTransition):
		// a webhook already moved the record past processing
		s.attachOrderID(writeCtx, logger, tx.ID, orderID)
	default:
		logger.Error("failed to store provider order id", "error", err, "manual_reconciliation", true)
	}
}

// attachOrderID stores orderID on a record that has already settled,
// keeping its status. An order id delivered by the webhook wins.
func (s *paymentService) attachOrderID(ctx context.Context, logger *slog.Logger, id int64, orderID string) {
	current, err := s.transactions.GetByID(ctx, id)
	if err == nil {
		if current.OnmetaTxID != "" {
			logger.Warn("transaction advanced before order id was stored",
				"status", current.Status, "onmeta_tx_id", current.OnmetaTxID)
			return
		}
		_, err = s.transactions.UpdateStatus(ctx, id, models.StatusUpdate{Status: current.Status, OnmetaTxID: orderID})
	}
	if err != nil {
		logger.Error("failed to store provider order id", "error", err, "manual_reconciliation", true)
		return
	}
	logger.Info("order id attached to settled transaction", "status", current.Status)
}

func (s *paymentService) publish(ctx context.Context, event models.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Error("failed to publish event", "type", event.Type, "key", event.Key(), "error", err)
	}
}
