package ports

import (
	"context"
	"time"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenService validates bearer tokens issued by the identity service.
type TokenService interface {
	Generate(userID uuid.UUID, isStaff bool) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID  uuid.UUID
	IsStaff bool
}

// IdempotencyCache is the Redis-layer idempotency check.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// JobLock prevents two processes from running the same sweep at once.
type JobLock interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job string) error
}

// --- Service Ports (Business Logic) ---

// EscrowService opens escrow on purchase.
type EscrowService interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*domain.PurchaseRecord, error)
}

// PurchaseRequest holds validated input for a purchase. Seller and price are
// resolved from the ItemCatalog.
type PurchaseRequest struct {
	BuyerID    uuid.UUID
	ItemID     uuid.UUID
	BuyerEmail string
}

// RefundService drives the refund request lifecycle.
type RefundService interface {
	Request(ctx context.Context, req RefundCreateRequest) (*domain.RefundRequest, error)
	MarkProcessing(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error)
	Approve(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error)
	Reject(ctx context.Context, refundID, staffID uuid.UUID, comment string) (*domain.RefundRequest, error)
	Fail(ctx context.Context, refundID, staffID uuid.UUID, comment string) (*domain.RefundRequest, error)
	Complete(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error)
}

// RefundCreateRequest holds input for a new refund request.
type RefundCreateRequest struct {
	PurchaseID  uuid.UUID
	RequesterID uuid.UUID
	IsStaff     bool
	Reason      string
	ContactInfo string
	KeepProduct bool
}

// DepositService starts card top-ups.
type DepositService interface {
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*DepositResult, error)
}

// DepositResult carries the hosted payment page for a deposit.
type DepositResult struct {
	Transaction *domain.Transaction
	PaymentURL  string
}

// WithdrawalService submits payouts.
type WithdrawalService interface {
	Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Transaction, error)
}

// WithdrawRequest holds validated input for a payout.
type WithdrawRequest struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Method         domain.PayoutMethod
	AccountNumber  string
	Phone          string
	BankName       string
	FirstName      string
	LastName       string
	MiddleName     string
	IdempotencyKey string
}

// ReconciliationService applies asynchronous provider notifications.
type ReconciliationService interface {
	HandleCardNotification(ctx context.Context, fields map[string]any) (*ReconcileResult, error)
	HandleReceiptCallback(ctx context.Context, externalID, status string) error
}

// ReconcileResult describes what a notification did.
type ReconcileResult struct {
	Outcome       string
	TransactionID uuid.UUID
}

// SweepService runs the periodic ledger jobs.
type SweepService interface {
	ReleaseMaturedEscrow(ctx context.Context) (*SweepReport, error)
	ExpireStalePending(ctx context.Context) (*SweepReport, error)
	PollPayoutStatuses(ctx context.Context) (*SweepReport, error)
}

// SweepReport summarises one sweep run.
type SweepReport struct {
	Job      string        `json:"job"`
	Scanned  int           `json:"scanned"`
	Applied  int           `json:"applied"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Sweep job names.
const (
	JobReleaseEscrow = "release"
	JobExpirePending = "expire"
	JobPollPayouts   = "payouts"
)

// JobRunner runs a named sweep job under the cross-process job lock.
type JobRunner interface {
	Run(ctx context.Context, job string) (*SweepReport, error)
}

// ReceiptNotifier issues fiscal receipts after the ledger committed.
type ReceiptNotifier interface {
	NotifySale(ctx context.Context, txn *domain.Transaction, receipt FiscalReceipt)
}

// ReportingService exposes read-only ledger views.
type ReportingService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params TransactionListParams) ([]domain.Transaction, int64, error)
	CheckWallet(ctx context.Context, userID uuid.UUID) (*WalletCheck, error)
}

// WalletCheck compares a wallet's frozen balance with its active escrow rows.
type WalletCheck struct {
	WalletID       uuid.UUID       `json:"wallet_id"`
	Balance        decimal.Decimal `json:"balance"`
	Frozen         decimal.Decimal `json:"frozen"`
	FrozenFundsSum decimal.Decimal `json:"frozen_funds_sum"`
	Consistent     bool            `json:"consistent"`
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
