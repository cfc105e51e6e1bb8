package ports

import (
	"context"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardGateway is the card-payment provider.
type CardGateway interface {
	Init(ctx context.Context, req CardInitRequest) (*CardInitResult, error)
	Confirm(ctx context.Context, paymentID string) error
	Cancel(ctx context.Context, paymentID string) error
	// VerifyNotification checks the Token of an inbound notification.
	VerifyNotification(fields map[string]any) bool
	TerminalKey() string
}

// CardInitRequest starts a hosted card payment.
type CardInitRequest struct {
	AmountMinor     int64
	OrderID         string
	Description     string
	NotificationURL string
}

// CardInitResult is the provider's answer to Init.
type CardInitResult struct {
	PaymentID  string
	PaymentURL string
}

// PayoutGateway is the payout provider.
type PayoutGateway interface {
	Submit(ctx context.Context, req PayoutRequest) error
	Status(ctx context.Context, externalID string) (string, error)
}

// PayoutRequest is a single payout to a user.
type PayoutRequest struct {
	ExternalID    string
	Amount        decimal.Decimal
	FirstName     string
	LastName      string
	MiddleName    string
	Phone         string
	Method        domain.PayoutMethod
	AccountNumber string
	BankID        string
}

// ReceiptKind selects the fiscal operation.
type ReceiptKind string

const (
	ReceiptKindSell       ReceiptKind = "sell"
	ReceiptKindSellRefund ReceiptKind = "sell_refund"
)

// FiscalReceipt describes one fiscal receipt to register.
type FiscalReceipt struct {
	Kind        ReceiptKind
	ExternalID  string
	Email       string
	ItemName    string
	Amount      decimal.Decimal
	SupplierINN string
}

// FiscalClient is the fiscal-receipt service.
type FiscalClient interface {
	Issue(ctx context.Context, receipt FiscalReceipt) error
}

// Alerter publishes operational alerts for humans.
type Alerter interface {
	Alert(ctx context.Context, subject string, fields map[string]string)
}

// ItemCatalog is the marketplace catalogue that owns item prices and sellers.
// GetItem returns nil, nil for an unknown item.
type ItemCatalog interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*domain.CatalogItem, error)
}
