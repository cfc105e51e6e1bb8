package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FrozenStatus is the state of an escrow hold.
type FrozenStatus string

const (
	FrozenStatusFrozen    FrozenStatus = "frozen"
	FrozenStatusReleased  FrozenStatus = "released"
	FrozenStatusCancelled FrozenStatus = "cancelled"
	FrozenStatusDisputed  FrozenStatus = "disputed"
)

// DefaultEscrowHold is the default maturity delay of a sale's proceeds.
const DefaultEscrowHold = 14 * 24 * time.Hour

// FrozenFunds is the escrow record tied 1:1 to a seller reward transaction.
type FrozenFunds struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Status        FrozenStatus    `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ReleaseAt     time.Time       `json:"release_at"`
}

// IsFrozen returns true while the hold is still active.
func (f *FrozenFunds) IsFrozen() bool {
	return f.Status == FrozenStatusFrozen
}

// IsMatured reports whether an active hold may be released at now.
func (f *FrozenFunds) IsMatured(now time.Time) bool {
	return f.IsFrozen() && !f.ReleaseAt.After(now)
}
