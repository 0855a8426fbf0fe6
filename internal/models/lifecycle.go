package models

import (
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/honeynil/upi-crypto-offramp/pkg/errors"
)

type StatusType string

const (
	StatusPending    StatusType = "pending"
	StatusProcessing StatusType = "processing"
	StatusSuccess    StatusType = "success"
	StatusFailed     StatusType = "failed"
)

// rank orders statuses along the lifecycle; success and failed share the
// terminal rank so neither can follow the other.
func (s StatusType) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusSuccess, StatusFailed:
		return 2
	}
	return -1
}

func (s StatusType) Valid() bool { return s.rank() >= 0 }

// ParseStatus maps a provider status string of any case onto the closed enum.
func ParseStatus(raw string) (StatusType, error) {
	s := StatusType(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidStatus, raw)
	}
	return s, nil
}

// CanTransition reports whether a record in status from may move to status to.
// Repeating the current status is allowed and changes nothing.
func CanTransition(from, to StatusType) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return to.rank() > from.rank()
}

// Apply moves t through u, stamping UpdatedAt with now.
func (t *Transaction) Apply(u StatusUpdate, now time.Time) error {
	if !CanTransition(t.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransition, t.Status, u.Status)
	}
	t.Status = u.Status
	if u.TxHash != "" {
		t.TxHash = u.TxHash
	}
	if u.OnmetaTxID != "" {
		t.OnmetaTxID = u.OnmetaTxID
	}
	t.UpdatedAt = now
	return nil
}

// Changes reports whether applying u to t would alter anything besides UpdatedAt.
func (t Transaction) Changes(u StatusUpdate) bool {
	return t.Status != u.Status ||
		(u.TxHash != "" && u.TxHash != t.TxHash) ||
		(u.OnmetaTxID != "" && u.OnmetaTxID != t.OnmetaTxID)
}
