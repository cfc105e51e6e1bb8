package ports

import (
	"context"
	"errors"
	"time"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance, frozen decimal.Decimal) error
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// TransitionStatus moves the row from one status to another and reports
	// whether the row was still in the expected status.
	TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error)
	MarkSubmitted(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	SetPaymentID(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymentID string) error
	UpdateReceiptStatus(ctx context.Context, id uuid.UUID, status domain.ReceiptStatus) error
	// TransitionReceiptStatus is the conditional form of UpdateReceiptStatus.
	TransitionReceiptStatus(ctx context.Context, id uuid.UUID, from, to domain.ReceiptStatus) (bool, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
	ListSubmittedPayouts(ctx context.Context, limit int) ([]domain.Transaction, error)
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	WalletID uuid.UUID
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	Page     int
	PageSize int
}

// FrozenFundsRepository defines persistence operations for escrow holds.
type FrozenFundsRepository interface {
	Create(ctx context.Context, tx pgx.Tx, ff *domain.FrozenFunds) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FrozenFunds, error)
	GetByTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.FrozenFunds, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.FrozenStatus) error
	ListMatured(ctx context.Context, now time.Time, limit int) ([]domain.FrozenFunds, error)
	SumFrozenByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error)
}

// PurchaseRepository defines persistence operations for purchase records.
type PurchaseRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRecord, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PurchaseRecord, error)
	// ExistsPaid reports whether buyer holds a non-refunded purchase of item.
	ExistsPaid(ctx context.Context, tx pgx.Tx, buyerID, itemID uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error
}

// RefundRepository defines persistence operations for refund requests.
type RefundRepository interface {
	Create(ctx context.Context, tx pgx.Tx, r *domain.RefundRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundRequest, error)
	HasOpen(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (bool, error)
	Update(ctx context.Context, tx pgx.Tx, r *domain.RefundRequest) error
}

// BankRepository resolves payout banks by name.
type BankRepository interface {
	GetByName(ctx context.Context, name string) (*domain.Bank, error)
	List(ctx context.Context) ([]domain.Bank, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrLockTimeout is returned by ...ForUpdate reads that could not obtain the
// row lock in time.
var ErrLockTimeout = errors.New("row lock timeout")
