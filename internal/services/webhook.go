package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/honeynil/upi-crypto-offramp/internal/infrastructure/observability"
	"github.com/honeynil/upi-crypto-offramp/internal/models"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

type WebhookResult struct {
	Outcome     WebhookOutcome
	Transaction *models.Transaction
}

// Reconciliation is the effect of one webhook on one stored record.
type Reconciliation struct {
	Update  models.StatusUpdate
	Result  models.Transaction
	Changed bool
}

// Reconcile computes what payload does to existing without touching any
// store. Unknown statuses fail with ErrInvalidStatus and moves against the
// lifecycle with ErrInvalidTransition.
func Reconcile(existing models.Transaction, payload models.WebhookPayload, now time.Time) (Reconciliation, error) {
	status, err := models.ParseStatus(payload.Status)
	if err != nil {
		return Reconciliation{}, err
	}

	update := models.StatusUpdate{
		Status:     status,
		TxHash:     payload.TxHash,
		OnmetaTxID: payload.OnmetaOrderID,
	}
	if !existing.Changes(update) {
		return Reconciliation{Update: update, Result: existing}, nil
	}

	next := existing
	if err := next.Apply(update, now); err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{Update: update, Result: next, Changed: true}, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload models.WebhookPayload) (*WebhookResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("merchant_tx_id", payload.MerchantTxID),
		attribute.String("status", payload.Status),
	)
	logger := observability.WithContext(ctx, "method", "HandleWebhook", "merchant_tx_id", payload.MerchantTxID, "status", payload.Status)

	fail := func(err error, outcome string) (*WebhookResult, error) {
		observability.Webhooks.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	existing, err := s.transactions.GetByMerchantTxID(ctx, payload.MerchantTxID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
			logger.Warn("webhook for unknown transaction")
			return fail(err, "not_found")
		}
		logger.Error("webhook lookup failed", "error", err)
		return fail(fmt.Errorf("webhook lookup: %w", err), "error")
	}

	rec, err := Reconcile(*existing, payload, s.now())
	switch {
	case stderrors.Is(err, pkgerrors.ErrInvalidTransition):
		return s.ignore(existing, logger.With("current", existing.Status), err), nil
	case err != nil:
		logger.Error("invalid webhook", "error", err)
		return fail(err, "invalid")
	}

	if !rec.Changed {
		observability.Webhooks.WithLabelValues(string(WebhookDuplicate)).Inc()
		logger.Info("duplicate webhook ignored", "transaction_id", existing.ID)
		return &WebhookResult{Outcome: WebhookDuplicate, Transaction: existing}, nil
	}

	updated, err := s.transactions.UpdateStatus(ctx, existing.ID, rec.Update)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidTransition) {
			// the record moved on between the read and the locked write
			return s.ignore(existing, logger, err), nil
		}
		logger.Error("failed to apply webhook", "transaction_id", existing.ID, "error", err)
		return fail(fmt.Errorf("webhook update: %w", err), "error")
	}

	observability.Webhooks.WithLabelValues(string(WebhookApplied)).Inc()
	s.publish(ctx, models.Event{Type: models.EventTransactionUpdated, Transaction: updated})
	logger.Info("webhook applied", "transaction_id", updated.ID, "from", existing.Status, "to", updated.Status, "tx_hash", updated.TxHash)
	return &WebhookResult{Outcome: WebhookApplied, Transaction: updated}, nil
}

func (s *paymentService) ignore(existing *models.Transaction, logger *slog.Logger, err error) *WebhookResult {
	observability.Webhooks.WithLabelValues(string(WebhookIgnored)).Inc()
	logger.Warn("stale webhook ignored", "transaction_id", existing.ID, "error", err)
	return &WebhookResult{Outcome: WebhookIgnored, Transaction: existing}
}
