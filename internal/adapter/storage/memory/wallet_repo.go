package memory

import (
	"context"
	"fmt"
	"time"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	s *Store
}

// NewWalletRepo creates a WalletRepo over s.
func NewWalletRepo(s *Store) *WalletRepo {
	return &WalletRepo{s: s}
}

func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.wallets[w.ID]; ok {
		return fmt.Errorf("insert wallet: duplicate id %s", w.ID)
	}
	for _, existing := range r.s.wallets {
		if existing.UserID == w.UserID {
			return fmt.Errorf("insert wallet: user %s already has a wallet", w.UserID)
		}
	}
	cp := *w
	r.s.wallets[w.ID] = &cp
	return nil
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.getLocked(id), nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.idByUserLocked(userID)
	if !ok {
		return nil, nil
	}
	return r.getLocked(id), nil
}

func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	r.s.mu.Lock()
	id, ok := r.idByUserLocked(userID)
	r.s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.GetByIDForUpdate(ctx, tx, id)
}

func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if err := r.s.lock(ctx, t, lockKey("wallets", id)); err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance, frozen decimal.Decimal) error {
	if balance.IsNegative() || frozen.IsNegative() {
		return fmt.Errorf("wallet %s: refusing negative balances (balance=%s frozen=%s)", walletID, balance, frozen)
	}
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		w, ok := r.s.wallets[walletID]
		if !ok {
			return nil, fmt.Errorf("wallet not found: %s", walletID)
		}
		prev := *w
		w.Balance, w.Frozen, w.UpdatedAt = balance, frozen, time.Now().UTC()
		return func() { *w = prev }, nil
	})
}

func (r *WalletRepo) getLocked(id uuid.UUID) *domain.Wallet {
	w, ok := r.s.wallets[id]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

func (r *WalletRepo) idByUserLocked(userID uuid.UUID) (uuid.UUID, bool) {
	for id, w := range r.s.wallets {
		if w.UserID == userID {
			return id, true
		}
	}
	return uuid.Nil, false
}
