package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"escrow-ledger/internal/adapter/storage/memory"
	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockTx implements pgx.Tx for gomock-driven tests.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

const testTerminalKey = "TinkoffBankTest"

// fakeCardGateway is an in-process card provider.
type fakeCardGateway struct {
	mu        sync.Mutex
	valid     bool
	initErr   error
	confirmed []string
	canceled  []string
}

func (g *fakeCardGateway) Init(_ context.Context, req ports.CardInitRequest) (*ports.CardInitResult, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &ports.CardInitResult{PaymentID: "pay-" + req.OrderID, PaymentURL: "https://pay.example/" + req.OrderID}, nil
}

func (g *fakeCardGateway) Confirm(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmed = append(g.confirmed, paymentID)
	return nil
}

func (g *fakeCardGateway) Cancel(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, paymentID)
	return nil
}

func (g *fakeCardGateway) VerifyNotification(map[string]any) bool { return g.valid }
func (g *fakeCardGateway) TerminalKey() string                    { return testTerminalKey }

func (g *fakeCardGateway) calls() (confirmed, canceled int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.confirmed), len(g.canceled)
}

// fakePayoutGateway is an in-process payout provider.
type fakePayoutGateway struct {
	mu        sync.Mutex
	submitErr error
	status    string
	statusErr error
	submitted []ports.PayoutRequest
}

func (g *fakePayoutGateway) Submit(_ context.Context, req ports.PayoutRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return g.submitErr
	}
	g.submitted = append(g.submitted, req)
	return nil
}

func (g *fakePayoutGateway) Status(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, g.statusErr
}

// recordingAlerter keeps every alert subject.
type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject string, _ map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

// recordingNotifier keeps every receipt request.
type recordingNotifier struct {
	mu       sync.Mutex
	receipts []ports.FiscalReceipt
}

func (n *recordingNotifier) NotifySale(_ context.Context, _ *domain.Transaction, r ports.FiscalReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

func (n *recordingNotifier) kinds() []ports.ReceiptKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []ports.ReceiptKind
	for _, r := range n.receipts {
		out = append(out, r.Kind)
	}
	return out
}

// mapCache is an in-process ports.IdempotencyCache.
type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string][]byte)
	}
	c.m[key] = value
	return nil
}

var errProviderDown = errors.New("provider down")

// ledgerFixture wires every ledger service over one in-memory store.
type ledgerFixture struct {
	store     *memory.Store
	wallets   *memory.WalletRepo
	txns      *memory.TransactionRepo
	frozen    *memory.FrozenFundsRepo
	purchases *memory.PurchaseRepo
	refunds   *memory.RefundRepo

	card     *fakeCardGateway
	payout   *fakePayoutGateway
	alerts   *recordingAlerter
	receipts *recordingNotifier
	cache    *mapCache
	audit    *AuditServiceImpl

	escrow     *EscrowServiceImpl
	refund     *RefundServiceImpl
	deposit    *DepositServiceImpl
	withdrawal *WithdrawalServiceImpl
	reconcile  *ReconciliationServiceImpl
	sweep      *SweepServiceImpl
	reporting  ports.ReportingService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	log := newTestLogger()

	store := memory.New(5 * time.Second)
	store.SeedBank(domain.Bank{Name: "Sber", BankID: "100000000111"})

	f := &ledgerFixture{
		store:     store,
		wallets:   memory.NewWalletRepo(store),
		txns:      memory.NewTransactionRepo(store),
		frozen:    memory.NewFrozenFundsRepo(store),
		purchases: memory.NewPurchaseRepo(store),
		refunds:   memory.NewRefundRepo(store),
		card:      &fakeCardGateway{valid: true},
		payout:    &fakePayoutGateway{status: "done"},
		alerts:    &recordingAlerter{},
		receipts:  &recordingNotifier{},
		cache:     &mapCache{},
	}
	f.audit = NewAuditService(memory.NewAuditRepo(store), log)

	f.escrow = NewEscrowService(f.wallets, f.txns, f.frozen, f.purchases, store, memory.NewItemCatalog(store), f.receipts,
		EscrowConfig{CommissionRate: domain.DefaultCommissionRate, HoldPeriod: domain.DefaultEscrowHold}, log)
	f.refund = NewRefundService(f.wallets, f.txns, f.frozen, f.purchases, f.refunds, store,
		f.receipts, f.alerts, f.audit, log)
	f.deposit = NewDepositService(f.wallets, f.txns, store, f.card, "https://escrow.example/api/v1/webhooks/card", log)
	f.withdrawal = NewWithdrawalService(f.wallets, f.txns, memory.NewBankRepo(store), store, f.payout,
		f.cache, f.alerts, dec("1000"), log)
	f.reconcile = NewReconciliationService(f.wallets, f.txns, store, f.card, f.alerts, f.audit, domain.DefaultPendingTTL, log)
	f.sweep = NewSweepService(f.wallets, f.txns, f.frozen, store, f.payout, f.alerts, f.audit,
		SweepConfig{BatchSize: 100, Concurrency: 4, PendingTTL: domain.DefaultPendingTTL}, log)
	f.reporting = NewReportingService(f.txns, f.wallets, f.frozen)
	return f
}

// newUser creates a user with a wallet holding balance.
func (f *ledgerFixture) newUser(t *testing.T, balance string) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, f.wallets.Create(context.Background(), &domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   dec(balance),
		Frozen:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return userID
}

func (f *ledgerFixture) wallet(t *testing.T, userID uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := f.wallets.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w
}

func (f *ledgerFixture) txn(t *testing.T, id uuid.UUID) *domain.Transaction {
	t.Helper()
	txn, err := f.txns.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, txn)
	return txn
}

// requireConsistent checks the frozen balance against the active escrow rows.
func (f *ledgerFixture) requireConsistent(t *testing.T, userID uuid.UUID) {
	t.Helper()
	check, err := f.reporting.CheckWallet(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, check.Consistent, "frozen %s != escrow sum %s", check.Frozen, check.FrozenFundsSum)
}

func (f *ledgerFixture) auditActions() []domain.AuditAction {
	f.audit.Wait()
	var out []domain.AuditAction
	for _, e := range f.store.AuditEntries() {
		out = append(out, e.Action)
	}
	return out
}

// listItem puts an item sold by seller at price into the catalogue.
func (f *ledgerFixture) listItem(seller uuid.UUID, price string) uuid.UUID {
	id := uuid.New()
	f.store.SeedItem(domain.CatalogItem{ID: id, SellerID: seller, Name: "Course", Price: dec(price)})
	return id
}

func (f *ledgerFixture) buy(t *testing.T, buyer, seller uuid.UUID, price string) *domain.PurchaseRecord {
	t.Helper()
	p, err := f.escrow.Purchase(context.Background(), ports.PurchaseRequest{
		BuyerID:    buyer,
		ItemID:     f.listItem(seller, price),
		BuyerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	return p
}

// cardNotificationFields builds a flat provider notification as the JSON
// decoder would produce it.
func cardNotificationFields(orderID, status string, amountMinor int64) map[string]any {
	return map[string]any{
		"TerminalKey": testTerminalKey,
		"OrderId":     orderID,
		"Success":     true,
		"Status":      status,
		"PaymentId":   jsonNumber(13660),
		"ErrorCode":   "0",
		"Amount":      jsonNumber(amountMinor),
		"Token":       "token-" + status,
	}
}

func jsonNumber(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}

// decimalEq matches a decimal.Decimal by value, ignoring its exponent.
type decimalEq struct{ want decimal.Decimal }

func decEq(s string) decimalEq { return decimalEq{want: dec(s)} }

func (m decimalEq) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalEq) String() string { return "is decimal " + m.want.String() }
