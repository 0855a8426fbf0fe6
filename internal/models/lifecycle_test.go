package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    StatusType
		wantErr bool
	}{
		{raw: "SUCCESS", want: StatusSuccess},
		{raw: "Failed", want: StatusFailed},
		{raw: " processing ", want: StatusProcessing},
		{raw: "pending", want: StatusPending},
		{raw: "completed", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	all := []StatusType{StatusPending, StatusProcessing, StatusSuccess, StatusFailed}
	allowed := map[[2]StatusType]bool{
		{StatusPending, StatusPending}:       true,
		{StatusPending, StatusProcessing}:    true,
		{StatusPending, StatusSuccess}:       true,
		{StatusPending, StatusFailed}:        true,
		{StatusProcessing, StatusProcessing}: true,
		{StatusProcessing, StatusSuccess}:    true,
		{StatusProcessing, StatusFailed}:     true,
		{StatusSuccess, StatusSuccess}:       true,
		{StatusFailed, StatusFailed}:         true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]StatusType{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("bogus", StatusSuccess))
}

func TestTransaction_Apply(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("KeepsOptionalFields", func(t *testing.T) {
		tx := Transaction{Status: StatusProcessing, OnmetaTxID: "o1"}
		require.NoError(t, tx.Apply(StatusUpdate{Status: StatusSuccess, TxHash: "0xabc"}, now))
		assert.Equal(t, StatusSuccess, tx.Status)
		assert.Equal(t, "0xabc", tx.TxHash)
		assert.Equal(t, "o1", tx.OnmetaTxID)
		assert.Equal(t, now, tx.UpdatedAt)

		require.NoError(t, tx.Apply(StatusUpdate{Status: StatusSuccess}, now.Add(time.Minute)))
		assert.Equal(t, "0xabc", tx.TxHash)
		assert.Equal(t, "o1", tx.OnmetaTxID)
	})

	t.Run("RejectsBackward", func(t *testing.T) {
		tx := Transaction{Status: StatusSuccess, TxHash: "0xabc"}
		err := tx.Apply(StatusUpdate{Status: StatusFailed}, now)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)
		assert.Equal(t, StatusSuccess, tx.Status)
		assert.True(t, tx.UpdatedAt.IsZero())
	})

	t.Run("Changes", func(t *testing.T) {
		tx := Transaction{Status: StatusSuccess, TxHash: "0xabc"}
		assert.False(t, tx.Changes(StatusUpdate{Status: StatusSuccess}))
		assert.False(t, tx.Changes(StatusUpdate{Status: StatusSuccess, TxHash: "0xabc"}))
		assert.True(t, tx.Changes(StatusUpdate{Status: StatusSuccess, TxHash: "0xdef"}))
		assert.True(t, tx.Changes(StatusUpdate{Status: StatusFailed}))
	})
}
