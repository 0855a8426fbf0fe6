package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeynil/upi-crypto-offramp/internal/models"
	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

func draft(merchantTxID string) models.TransactionDraft {
	return models.TransactionDraft{
		MerchantTxID:  merchantTxID,
		UPIID:         "shop@upi",
		INRAmount:     "500.00",
		TokenAmount:   "5.91",
		CryptoType:    "usdt",
		Chain:         "polygon",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
	}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestTransactionStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		store := NewTransactionStore()
		tx, err := store.Create(ctx, draft("m1"))
		require.NoError(t, err)

		got, err := store.GetByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, got.CreatedAt, got.UpdatedAt)
		assert.True(t, decimal.RequireFromString("500").Equal(got.INRAmount))
		assert.Equal(t, models.CryptoUSDT, got.CryptoType)
	})

	t.Run("Defaults", func(t *testing.T) {
		store := NewTransactionStore()
		d := draft("m1")
		d.CryptoType = ""
		d.Chain = ""
		tx, err := store.Create(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, models.CryptoUSDT, tx.CryptoType)
		assert.Equal(t, models.DefaultChain, tx.Chain)
	})

	t.Run("DuplicateMerchantTxID", func(t *testing.T) {
		store := NewTransactionStore()
		_, err := store.Create(ctx, draft("m1"))
		require.NoError(t, err)

		_, err = store.Create(ctx, draft("m1"))
		assert.ErrorIs(t, err, pkgerrors.ErrDuplicateMerchantTxID)

		all, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("ConcurrentDuplicates", func(t *testing.T) {
		store := NewTransactionStore()
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Create(ctx, draft("race"))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			if err == nil {
				created++
				continue
			}
			assert.ErrorIs(t, err, pkgerrors.ErrDuplicateMerchantTxID)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("Invalid", func(t *testing.T) {
		store := NewTransactionStore()
		d := draft("m1")
		d.INRAmount = "abc"
		_, err := store.Create(ctx, d)
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)

		_, err = store.GetByMerchantTxID(ctx, "m1")
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
	})
}

func TestTransactionStore_Lookups(t *testing.T) {
	ctx := context.Background()
	store := NewTransactionStore()
	tx, err := store.Create(ctx, draft("m1"))
	require.NoError(t, err)

	got, err := store.GetByMerchantTxID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = store.GetByID(ctx, 42)
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)

	_, err = store.GetByMerchantTxID(ctx, "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)

	// returned records are copies
	got.Status = models.StatusFailed
	again, _ := store.GetByID(ctx, tx.ID)
	assert.Equal(t, models.StatusPending, again.Status)
}

func TestTransactionStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("RefreshesUpdatedAt", func(t *testing.T) {
		clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		store := NewTransactionStore().WithClock(clock.Now)
		tx, err := store.Create(ctx, draft("m1"))
		require.NoError(t, err)

		updated, err := store.UpdateStatus(ctx, tx.ID, models.StatusUpdate{Status: models.StatusProcessing, OnmetaTxID: "o1"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, updated.Status)
		assert.Equal(t, "o1", updated.OnmetaTxID)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	})

	t.Run("IdempotentTerminal", func(t *testing.T) {
		store := NewTransactionStore()
		tx, err := store.Create(ctx, draft("m1"))
		require.NoError(t, err)

		first, err := store.UpdateStatus(ctx, tx.ID, models.StatusUpdate{Status: models.StatusSuccess, TxHash: "0xabc", OnmetaTxID: "o1"})
		require.NoError(t, err)
		second, err := store.UpdateStatus(ctx, tx.ID, models.StatusUpdate{Status: models.StatusSuccess})
		require.NoError(t, err)

		assert.Equal(t, models.StatusSuccess, second.Status)
		assert.Equal(t, first.TxHash, second.TxHash)
		assert.Equal(t, first.OnmetaTxID, second.OnmetaTxID)
	})

	t.Run("RejectsBackward", func(t *testing.T) {
		store := NewTransactionStore()
		tx, err := store.Create(ctx, draft("m1"))
		require.NoError(t, err)
		_, err = store.UpdateStatus(ctx, tx.ID, models.StatusUpdate{Status: models.StatusSuccess, TxHash: "0xabc"})
		require.NoError(t, err)

		_, err = store.UpdateStatus(ctx, tx.ID, models.StatusUpdate{Status: models.StatusFailed})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)

		got, _ := store.GetByID(ctx, tx.ID)
		assert.Equal(t, models.StatusSuccess, got.Status)
		assert.Equal(t, "0xabc", got.TxHash)
	})

	t.Run("NotFound", func(t *testing.T) {
		store := NewTransactionStore()
		_, err := store.UpdateStatus(ctx, 7, models.StatusUpdate{Status: models.StatusProcessing})
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
	})
}

func TestTransactionStore_ListRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("MostRecentFirst", func(t *testing.T) {
		clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		store := NewTransactionStore().WithClock(clock.Now)
		for i := 1; i <= 3; i++ {
			_, err := store.Create(ctx, draft(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
		}

		got, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m3", got[0].MerchantTxID)
		assert.Equal(t, "m2", got[1].MerchantTxID)
	})

	t.Run("TiesBrokenByID", func(t *testing.T) {
		fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		store := NewTransactionStore().WithClock(func() time.Time { return fixed })
		for i := 1; i <= 3; i++ {
			_, err := store.Create(ctx, draft(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
		}

		got, err := store.ListRecent(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []int64{3, 2, 1}, []int64{got[0].ID, got[1].ID, got[2].ID})
	})
}

func TestRateStore(t *testing.T) {
	ctx := context.Background()
	store := NewRateStore()
	pair := models.NewCurrencyPair("USDT", "INR")

	_, err := store.Get(ctx, pair)
	assert.ErrorIs(t, err, pkgerrors.ErrRateNotFound)

	first, err := store.Upsert(ctx, pair, decimal.RequireFromString("84.50"))
	require.NoError(t, err)
	assert.Equal(t, "usdt", first.FromCurrency)

	_, err = store.Upsert(ctx, pair, decimal.RequireFromString("85.10"))
	require.NoError(t, err)

	got, err := store.Get(ctx, models.NewCurrencyPair("usdt", "inr"))
	require.NoError(t, err)
	assert.Equal(t, "85.1", got.Rate.String())
	assert.False(t, got.UpdatedAt.Before(first.UpdatedAt))
}
