package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseStatus is the state of a sale.
type PurchaseStatus string

const (
	PurchaseStatusPending  PurchaseStatus = "pending"
	PurchaseStatusPaid     PurchaseStatus = "paid"
	PurchaseStatusCanceled PurchaseStatus = "canceled"
	PurchaseStatusRefunded PurchaseStatus = "refunded"
)

// DefaultCommissionRate is the marketplace share of every sale.
var DefaultCommissionRate = decimal.RequireFromString("0.20")

// PurchaseRecord links the buyer and seller transactions of one sale.
type PurchaseRecord struct {
	ID                        uuid.UUID       `json:"id"`
	ItemID                    uuid.UUID       `json:"item_id"`
	BuyerID                   uuid.UUID       `json:"buyer_id"`
	SellerID                  uuid.UUID       `json:"seller_id"`
	BuyerTransactionID        uuid.UUID       `json:"buyer_transaction_id"`
	SellerTransactionID       uuid.UUID       `json:"seller_transaction_id"`
	RefundBuyerTransactionID  *uuid.UUID      `json:"refund_buyer_transaction_id,omitempty"`
	RefundSellerTransactionID *uuid.UUID      `json:"refund_seller_transaction_id,omitempty"`
	PaymentAmount             decimal.Decimal `json:"payment_amount"`
	Commission                decimal.Decimal `json:"commission"`
	NetAmount                 decimal.Decimal `json:"net_amount"`
	Status                    PurchaseStatus  `json:"status"`
	IsGift                    bool            `json:"is_gift"`
	CreatedAt                 time.Time       `json:"created_at"`
}

// CatalogItem is an item as the marketplace catalogue lists it.
type CatalogItem struct {
	ID        uuid.UUID       `json:"id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	SellerINN string          `json:"seller_inn,omitempty"`
}

// IsRefundable returns true if the sale can still be refunded.
func (p *PurchaseRecord) IsRefundable() bool {
	return p.Status == PurchaseStatusPaid
}

// SplitCommission returns the marketplace commission (rounded to cents) and
// the seller's net amount for a sale at price.
func SplitCommission(price, rate decimal.Decimal) (commission, net decimal.Decimal) {
	commission = price.Mul(rate).Round(2)
	net = price.Sub(commission)
	return commission, net
}
