package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypeWithdraw TransactionType = "withdraw"
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeReward   TransactionType = "reward"
	TransactionTypeRefund   TransactionType = "refund"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusFrozen   TransactionStatus = "frozen"
	TransactionStatusPaid     TransactionStatus = "paid"
	TransactionStatusCanceled TransactionStatus = "canceled"
	TransactionStatusFailed   TransactionStatus = "failed"
)

// ReceiptStatus tracks the fiscal receipt issued for a transaction.
type ReceiptStatus string

const (
	ReceiptStatusNotRequired ReceiptStatus = "not_required"
	ReceiptStatusPending     ReceiptStatus = "pending"
	ReceiptStatusSent        ReceiptStatus = "sent"
	ReceiptStatusFailed      ReceiptStatus = "failed"
)

// DefaultPendingTTL is how long a pending transaction may wait for the provider.
const DefaultPendingTTL = time.Hour

// Transaction is an immutable-intent ledger entry. Amount is always positive,
// the direction follows from Type.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	ExternalID    string            `json:"external_id"`
	WalletID      uuid.UUID         `json:"wallet_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	ReceiptStatus ReceiptStatus     `json:"receipt_status"`
	PaymentID     *string           `json:"payment_id,omitempty"`   // card provider payment id
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"` // payout accepted and debited
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusPaid ||
		t.Status == TransactionStatusCanceled ||
		t.Status == TransactionStatusFailed
}

// IsPending returns true while the provider outcome is unknown.
func (t *Transaction) IsPending() bool {
	return t.Status == TransactionStatusPending
}

// IsExpired reports whether a pending transaction is older than ttl.
func (t *Transaction) IsExpired(now time.Time, ttl time.Duration) bool {
	return t.IsPending() && now.Sub(t.CreatedAt) > ttl
}

// CanTransition reports whether status may move to next. Only pending
// transactions move, and only into a terminal state.
func (t *Transaction) CanTransition(next TransactionStatus) bool {
	if !t.IsPending() {
		return false
	}
	switch next {
	case TransactionStatusPaid, TransactionStatusCanceled, TransactionStatusFailed:
		return true
	}
	return false
}

// IsPayoutSubmitted is true for withdrawals the payout provider accepted.
func (t *Transaction) IsPayoutSubmitted() bool {
	return t.Type == TransactionTypeWithdraw && t.SubmittedAt != nil
}

// AmountMinor returns the amount in minor currency units (kopecks).
func (t *Transaction) AmountMinor() int64 {
	return ToMinor(t.Amount)
}

// ToMinor converts a two-decimal amount into integer minor units.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinor converts integer minor units back into a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
