package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

func TestReconcile(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)

	tests := []struct {
		name        string
		existing    models.Transaction
		payload     models.WebhookPayload
		wantStatus  models.StatusType
		wantHash    string
		wantOrder   string
		wantChanged bool
		wantErr     error
	}{
		{
			name:        "PendingToSuccessUpperCase",
			existing:    models.Transaction{Status: models.StatusPending},
			payload:     models.WebhookPayload{Status: "SUCCESS", TxHash: "0xabc"},
			wantStatus:  models.StatusSuccess,
			wantHash:    "0xabc",
			wantChanged: true,
		},
		{
			name:        "ProcessingToFailedKeepsOrder",
			existing:    models.Transaction{Status: models.StatusProcessing, OnmetaTxID: "o1"},
			payload:     models.WebhookPayload{Status: "Failed"},
			wantStatus:  models.StatusFailed,
			wantOrder:   "o1",
			wantChanged: true,
		},
		{
			name:        "SameStatusNewHash",
			existing:    models.Transaction{Status: models.StatusProcessing},
			payload:     models.WebhookPayload{Status: "processing", TxHash: "0x1", OnmetaOrderID: "o2"},
			wantStatus:  models.StatusProcessing,
			wantHash:    "0x1",
			wantOrder:   "o2",
			wantChanged: true,
		},
		{
			name:       "DuplicateTerminal",
			existing:   models.Transaction{Status: models.StatusSuccess, TxHash: "0xabc"},
			payload:    models.WebhookPayload{Status: "success"},
			wantStatus: models.StatusSuccess,
			wantHash:   "0xabc",
		},
		{
			name:     "SuccessToFailed",
			existing: models.Transaction{Status: models.StatusSuccess, TxHash: "0xabc"},
			payload:  models.WebhookPayload{Status: "FAILED"},
			wantErr:  pkgerrors.ErrInvalidTransition,
		},
		{
			name:     "ProcessingToPending",
			existing: models.Transaction{Status: models.StatusProcessing},
			payload:  models.WebhookPayload{Status: "pending"},
			wantErr:  pkgerrors.ErrInvalidTransition,
		},
		{
			name:     "UnknownStatus",
			existing: models.Transaction{Status: models.StatusPending},
			payload:  models.WebhookPayload{Status: "refunded"},
			wantErr:  pkgerrors.ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.existing.UpdatedAt = created
			rec, err := Reconcile(tt.existing, tt.payload, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, rec.Changed)
			assert.Equal(t, tt.wantStatus, rec.Result.Status)
			assert.Equal(t, tt.wantHash, rec.Result.TxHash)
			assert.Equal(t, tt.wantOrder, rec.Result.OnmetaTxID)
			if tt.wantChanged {
				assert.Equal(t, now, rec.Result.UpdatedAt)
			} else {
				assert.Equal(t, created, rec.Result.UpdatedAt)
			}
		})
	}

	t.Run("DoesNotMutateInput", func(t *testing.T) {
		existing := models.Transaction{Status: models.StatusPending}
		_, err := Reconcile(existing, models.WebhookPayload{Status: "success", TxHash: "0x1"}, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, existing.Status)
		assert.Empty(t, existing.TxHash)
	})
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessThenFailedIsIgnored", func(t *testing.T) {
		f := newFixture(t)
		tx := f.create(t, "m1")

		res, err := f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "m1", Status: "SUCCESS", TxHash: "0xabc"})
		require.NoError(t, err)
		assert.Equal(t, WebhookApplied, res.Outcome)
		assert.Equal(t, models.StatusSuccess, res.Transaction.Status)

		res, err = f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "m1", Status: "FAILED"})
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Outcome)

		stored, err := f.store.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, stored.Status)
		assert.Equal(t, "0xabc", stored.TxHash)
		assert.Equal(t, []models.EventType{models.EventTransactionCreated, models.EventTransactionUpdated}, f.publisher.types())
	})

	t.Run("DuplicateDeliveryIsNoop", func(t *testing.T) {
		f := newFixture(t)
		tx := f.create(t, "m1")
		payload := models.WebhookPayload{MerchantTxID: "m1", Status: "success", TxHash: "0xabc", OnmetaOrderID: "o1"}

		_, err := f.svc.HandleWebhook(ctx, payload)
		require.NoError(t, err)
		first, err := f.store.GetByID(ctx, tx.ID)
		require.NoError(t, err)

		res, err := f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "m1", Status: "SUCCESS"})
		require.NoError(t, err)
		assert.Equal(t, WebhookDuplicate, res.Outcome)

		second, err := f.store.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, f.publisher.events, 2)
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "nope", Status: "success"})
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.Empty(t, f.publisher.events)
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		f := newFixture(t)
		f.create(t, "m1")
		_, err := f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "m1", Status: "refunded"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatus)
		assert.Len(t, f.publisher.events, 1)
	})

	t.Run("AfterInitiation", func(t *testing.T) {
		f := newFixture(t)
		tx := f.create(t, "m1")
		_, err := f.svc.InitiatePayment(ctx, initiateRequest("m1"))
		require.NoError(t, err)

		res, err := f.svc.HandleWebhook(ctx, models.WebhookPayload{MerchantTxID: "m1", Status: "SUCCESS", TxHash: "0x123"})
		require.NoError(t, err)
		assert.Equal(t, WebhookApplied, res.Outcome)

		stored, err := f.store.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, stored.Status)
		assert.Equal(t, "0x123", stored.TxHash)
		assert.Equal(t, "o1", stored.OnmetaTxID)

		last := f.publisher.events[len(f.publisher.events)-1]
		assert.Equal(t, models.EventTransactionUpdated, last.Type)
		assert.Equal(t, models.StatusSuccess, last.Transaction.Status)
	})
}
