package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWallet(t *testing.T, s *Store, balance string) *domain.Wallet {
	t.Helper()
	w := &domain.Wallet{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Balance:   decimal.RequireFromString(balance),
		Frozen:    decimal.Zero,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, NewWalletRepo(s).Create(context.Background(), w))
	return w
}

func TestStore_RollbackRevertsWrites(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	wallets := NewWalletRepo(s)
	txns := NewTransactionRepo(s)
	w := seedWallet(t, s, "100")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	locked, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	require.NoError(t, wallets.UpdateBalances(ctx, tx, w.ID, locked.Balance.Sub(decimal.NewFromInt(40)), decimal.Zero))

	txn := &domain.Transaction{
		ID: uuid.New(), ExternalID: "buy_1", WalletID: w.ID, Amount: decimal.NewFromInt(40),
		Type: domain.TransactionTypePurchase, Status: domain.TransactionStatusPaid, CreatedAt: time.Now(),
	}
	require.NoError(t, txns.Create(ctx, tx, txn))

	require.NoError(t, tx.Rollback(ctx))

	after, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(100)))

	gone, err := txns.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_CommitKeepsWritesAndClosesTx(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	require.NoError(t, wallets.UpdateBalances(ctx, tx, w.ID, decimal.NewFromInt(60), decimal.NewFromInt(40)))
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)

	after, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(60)))
	assert.True(t, after.Frozen.Equal(decimal.NewFromInt(40)))
}

func TestStore_RowLockBlocksSecondScope(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")

	first, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = wallets.GetByIDForUpdate(ctx, first, w.ID)
	require.NoError(t, err)

	acquired := make(chan *domain.Wallet)
	go func() {
		second, _ := s.Begin(ctx)
		defer second.Rollback(ctx) //nolint:errcheck
		got, _ := wallets.GetByIDForUpdate(ctx, second, w.ID)
		acquired <- got
	}()

	select {
	case <-acquired:
		t.Fatal("second scope acquired a held row lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, wallets.UpdateBalances(ctx, first, w.ID, decimal.NewFromInt(10), decimal.Zero))
	require.NoError(t, first.Commit(ctx))

	select {
	case got := <-acquired:
		require.NotNil(t, got)
		assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)), "waiter must observe the committed value")
	case <-time.After(time.Second):
		t.Fatal("second scope never acquired the lock")
	}
}

func TestStore_LockTimeout(t *testing.T) {
	ctx := context.Background()
	s := New(20 * time.Millisecond)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")

	holder, err := s.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx) //nolint:errcheck
	_, err = wallets.GetByIDForUpdate(ctx, holder, w.ID)
	require.NoError(t, err)

	waiter, err := s.Begin(ctx)
	require.NoError(t, err)
	defer waiter.Rollback(ctx) //nolint:errcheck

	_, err = wallets.GetByIDForUpdate(ctx, waiter, w.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrLockTimeout))
}

func TestStore_LockWaitHonoursContext(t *testing.T) {
	s := New(0)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")

	holder, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer holder.Rollback(context.Background()) //nolint:errcheck
	_, err = wallets.GetByIDForUpdate(context.Background(), holder, w.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiter, err := s.Begin(ctx)
	require.NoError(t, err)
	defer waiter.Rollback(context.Background()) //nolint:errcheck

	_, err = wallets.GetByIDForUpdate(ctx, waiter, w.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_ReentrantLock(t *testing.T) {
	ctx := context.Background()
	s := New(10 * time.Millisecond)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = wallets.GetByUserIDForUpdate(ctx, tx, w.UserID)
	require.NoError(t, err)
	_, err = wallets.GetByIDForUpdate(ctx, tx, w.ID)
	assert.NoError(t, err)
}

func TestStore_ForeignTxRejected(t *testing.T) {
	ctx := context.Background()
	a, b := New(0), New(0)
	w := seedWallet(t, b, "1")

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = NewWalletRepo(b).GetByIDForUpdate(ctx, tx, w.ID)
	assert.ErrorIs(t, err, ErrForeignTx)
}

func TestStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	wallets := NewWalletRepo(s)
	w := seedWallet(t, s, "100")
	debit := decimal.NewFromInt(7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if err != nil {
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck

			locked, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
			if err != nil || !locked.CanDebit(debit) {
				return
			}
			if err := wallets.UpdateBalances(ctx, tx, w.ID, locked.Balance.Sub(debit), locked.Frozen); err != nil {
				return
			}
			if tx.Commit(ctx) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	after, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 14, succeeded)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(2)), "balance %s", after.Balance)
}

func TestTransactionRepo_ListsAndTransitions(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	txns := NewTransactionRepo(s)
	w := seedWallet(t, s, "0")
	now := time.Now().UTC()

	old := &domain.Transaction{ID: uuid.New(), ExternalID: "dep_old", WalletID: w.ID, Amount: decimal.NewFromInt(5),
		Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusPending, CreatedAt: now.Add(-2 * time.Hour)}
	fresh := &domain.Transaction{ID: uuid.New(), ExternalID: "dep_new", WalletID: w.ID, Amount: decimal.NewFromInt(5),
		Type: domain.TransactionTypeDeposit, Status: domain.TransactionStatusPending, CreatedAt: now.Add(-10 * time.Minute)}
	submittedAt := now.Add(-3 * time.Hour)
	payout := &domain.Transaction{ID: uuid.New(), ExternalID: "wd_1", WalletID: w.ID, Amount: decimal.NewFromInt(1000),
		Type: domain.TransactionTypeWithdraw, Status: domain.TransactionStatusPending, CreatedAt: now.Add(-3 * time.Hour),
		SubmittedAt: &submittedAt}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, txn := range []*domain.Transaction{old, fresh, payout} {
		require.NoError(t, txns.Create(ctx, tx, txn))
	}
	require.NoError(t, tx.Commit(ctx))

	stale, err := txns.ListStalePending(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	submitted, err := txns.ListSubmittedPayouts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, payout.ID, submitted[0].ID)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	ok, err := txns.TransitionStatus(ctx, tx, old.ID, domain.TransactionStatusPending, domain.TransactionStatusCanceled)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = txns.TransitionStatus(ctx, tx, old.ID, domain.TransactionStatusPending, domain.TransactionStatusPaid)
	require.NoError(t, err)
	assert.False(t, ok, "a terminal row must not transition again")
	require.NoError(t, tx.Commit(ctx))

	page, total, err := txns.List(ctx, ports.TransactionListParams{WalletID: w.ID, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, fresh.ID, page[0].ID)
}

func TestTransactionRepo_DuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	txns := NewTransactionRepo(s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	base := domain.Transaction{ExternalID: "dup", Amount: decimal.NewFromInt(1), Status: domain.TransactionStatusPending}
	a, b := base, base
	a.ID, b.ID = uuid.New(), uuid.New()
	require.NoError(t, txns.Create(ctx, tx, &a))
	assert.Error(t, txns.Create(ctx, tx, &b))
}

func TestFrozenFundsRepo_SumAndMatured(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	frozen := NewFrozenFundsRepo(s)
	walletID := uuid.New()
	now := time.Now().UTC()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	mature := &domain.FrozenFunds{ID: uuid.New(), WalletID: walletID, TransactionID: uuid.New(),
		Amount: decimal.NewFromInt(80), Status: domain.FrozenStatusFrozen, CreatedAt: now, ReleaseAt: now.Add(-time.Minute)}
	young := &domain.FrozenFunds{ID: uuid.New(), WalletID: walletID, TransactionID: uuid.New(),
		Amount: decimal.NewFromInt(20), Status: domain.FrozenStatusFrozen, CreatedAt: now, ReleaseAt: now.Add(time.Hour)}
	require.NoError(t, frozen.Create(ctx, tx, mature))
	require.NoError(t, frozen.Create(ctx, tx, young))
	require.NoError(t, tx.Commit(ctx))

	sum, err := frozen.SumFrozenByWallet(ctx, walletID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(100)))

	matured, err := frozen.ListMatured(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, matured, 1)
	assert.Equal(t, mature.ID, matured[0].ID)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	locked, err := frozen.GetByTransactionIDForUpdate(ctx, tx, mature.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	require.NoError(t, frozen.UpdateStatus(ctx, tx, locked.ID, domain.FrozenStatusReleased))
	require.NoError(t, tx.Commit(ctx))

	sum, err = frozen.SumFrozenByWallet(ctx, walletID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(20)))
}

func TestRefundRepo_OneOpenRequestPerPurchase(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	refunds := NewRefundRepo(s)
	purchaseID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	first := &domain.RefundRequest{ID: uuid.New(), PurchaseID: purchaseID, Status: domain.RefundStatusRequested}
	require.NoError(t, refunds.Create(ctx, tx, first))

	open, err := refunds.HasOpen(ctx, tx, purchaseID)
	require.NoError(t, err)
	assert.True(t, open)

	second := &domain.RefundRequest{ID: uuid.New(), PurchaseID: purchaseID, Status: domain.RefundStatusRequested}
	assert.Error(t, refunds.Create(ctx, tx, second))
}

func TestBankRepo_CaseInsensitiveLookup(t *testing.T) {
	s := New(0)
	s.SeedBank(domain.Bank{Name: "Tinkoff", BankID: "100000000004"})
	s.SeedBank(domain.Bank{Name: "Alfa", BankID: "100000000008"})
	banks := NewBankRepo(s)

	b, err := banks.GetByName(context.Background(), "tinkoff")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "100000000004", b.BankID)

	all, err := banks.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alfa", all[0].Name)
}

func TestItemCatalog_GetItem(t *testing.T) {
	s := New(0)
	item := domain.CatalogItem{ID: uuid.New(), SellerID: uuid.New(), Name: "Course", Price: decimal.RequireFromString("100")}
	s.SeedItem(item)
	catalog := NewItemCatalog(s)

	got, err := catalog.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.SellerID, got.SellerID)
	assert.True(t, got.Price.Equal(item.Price))

	missing, err := catalog.GetItem(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
