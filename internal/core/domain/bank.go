package domain

import "strings"

// Bank maps the bank name a user submits to the payout provider's bank id.
type Bank struct {
	Name   string `json:"name"`
	BankID string `json:"bank_id"`
}

// PayoutMethod is how a withdrawal reaches the user.
type PayoutMethod string

const (
	PayoutMethodCard    PayoutMethod = "card"
	PayoutMethodPhone   PayoutMethod = "phone"
	PayoutMethodSBP     PayoutMethod = "sbp"
	PayoutMethodAccount PayoutMethod = "account"
)

// IsValid reports whether m is a known payout method.
func (m PayoutMethod) IsValid() bool {
	switch m {
	case PayoutMethodCard, PayoutMethodPhone, PayoutMethodSBP, PayoutMethodAccount:
		return true
	}
	return false
}

// NeedsBank is true for instant transfers routed by bank.
func (m PayoutMethod) NeedsBank() bool {
	return m == PayoutMethodPhone || m == PayoutMethodSBP
}

// IsPayoutPaid reports whether a payout provider status means the money
// reached the user.
func IsPayoutPaid(status string) bool {
	switch strings.ToLower(status) {
	case "done", "paid", "success":
		return true
	}
	return false
}
