package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds a user's spendable balance and the escrow currently frozen on it.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Frozen    decimal.Decimal `json:"frozen"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns balance + frozen.
func (w *Wallet) Total() decimal.Decimal {
	return w.Balance.Add(w.Frozen)
}

// CanDebit reports whether the spendable balance covers amount.
func (w *Wallet) CanDebit(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// ReleaseFrozen moves amount from frozen to balance.
func (w *Wallet) ReleaseFrozen(amount decimal.Decimal) {
	w.Frozen = w.Frozen.Sub(amount)
	w.Balance = w.Balance.Add(amount)
}

// CancelFrozen removes amount from frozen. If frozen would go negative the
// shortfall is taken from balance and the shortfall is returned (zero when
// the wallet was consistent).
func (w *Wallet) CancelFrozen(amount decimal.Decimal) decimal.Decimal {
	w.Frozen = w.Frozen.Sub(amount)
	if !w.Frozen.IsNegative() {
		return decimal.Zero
	}
	shortfall := w.Frozen.Neg()
	w.Balance = w.Balance.Sub(shortfall)
	w.Frozen = decimal.Zero
	return shortfall
}
