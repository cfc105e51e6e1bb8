package dto

import (
	"escrow-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// PurchaseRequest is the request body for buying an item from the buyer's
// wallet. The price and the seller are looked up in the item catalogue.
type PurchaseRequest struct {
	ItemID     string `json:"item_id" binding:"required,uuid"`
	BuyerEmail string `json:"buyer_email" binding:"omitempty,email,max=255"`
}

// DepositRequest is the request body for a card top-up.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"money"`
}

// DepositResponse carries the hosted payment page for a started top-up.
type DepositResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	PaymentURL  string              `json:"payment_url"`
}

// WithdrawRequest is the request body for a payout. The idempotency key
// travels in the Idempotency-Key header.
type WithdrawRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"money"`
	Method        string          `json:"method" binding:"required,payout_method"`
	AccountNumber string          `json:"account_number" binding:"max=64"`
	Phone         string          `json:"phone" binding:"max=20"`
	BankName      string          `json:"bank_name" binding:"max=100"`
	FirstName     string          `json:"first_name" binding:"max=100"`
	LastName      string          `json:"last_name" binding:"max=100"`
	MiddleName    string          `json:"middle_name" binding:"max=100"`
}

// RefundCreateRequest is the request body for opening a refund.
type RefundCreateRequest struct {
	PurchaseID  string `json:"purchase_id" binding:"required,uuid"`
	Reason      string `json:"reason" binding:"required,max=2000"`
	ContactInfo string `json:"contact_info" binding:"max=255"`
	KeepProduct bool   `json:"keep_product"`
}

// RefundDecisionRequest carries the optional staff comment on reject/fail.
type RefundDecisionRequest struct {
	Comment string `json:"comment" binding:"max=2000"`
}

// ReceiptCallbackRequest is the fiscal service's delivery report.
type ReceiptCallbackRequest struct {
	ExternalID string `json:"external_id" binding:"required,safe_id"`
	Status     string `json:"status" binding:"required,max=32"`
}

// TransactionListQuery holds the query string of the history endpoint.
type TransactionListQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status   string `form:"status" binding:"omitempty,oneof=pending frozen paid canceled failed"`
	Type     string `form:"type" binding:"omitempty,oneof=deposit withdraw purchase reward refund"`
}
