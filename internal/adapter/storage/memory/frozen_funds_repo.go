package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// FrozenFundsRepo implements ports.FrozenFundsRepository.
type FrozenFundsRepo struct {
	s *Store
}

// NewFrozenFundsRepo creates a FrozenFundsRepo over s.
func NewFrozenFundsRepo(s *Store) *FrozenFundsRepo {
	return &FrozenFundsRepo{s: s}
}

func (r *FrozenFundsRepo) Create(ctx context.Context, tx pgx.Tx, ff *domain.FrozenFunds) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		for _, existing := range r.s.frozen {
			if existing.TransactionID == ff.TransactionID {
				return nil, fmt.Errorf("insert frozen funds: transaction %s already has a hold", ff.TransactionID)
			}
		}
		cp := *ff
		r.s.frozen[ff.ID] = &cp
		return func() { delete(r.s.frozen, ff.ID) }, nil
	})
}

func (r *FrozenFundsRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FrozenFunds, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if err := r.s.lock(ctx, t, lockKey("frozen_funds", id)); err != nil {
		return nil, fmt.Errorf("get frozen funds for update: %w", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ff, ok := r.s.frozen[id]
	if !ok {
		return nil, nil
	}
	cp := *ff
	return &cp, nil
}

func (r *FrozenFundsRepo) GetByTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.FrozenFunds, error) {
	r.s.mu.Lock()
	var id uuid.UUID
	for fid, ff := range r.s.frozen {
		if ff.TransactionID == transactionID {
			id = fid
			break
		}
	}
	r.s.mu.Unlock()
	if id == uuid.Nil {
		return nil, nil
	}
	return r.GetByIDForUpdate(ctx, tx, id)
}

func (r *FrozenFundsRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.FrozenStatus) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		ff, ok := r.s.frozen[id]
		if !ok {
			return nil, fmt.Errorf("frozen funds not found: %s", id)
		}
		prev := ff.Status
		ff.Status = status
		return func() { ff.Status = prev }, nil
	})
}

func (r *FrozenFundsRepo) ListMatured(ctx context.Context, now time.Time, limit int) ([]domain.FrozenFunds, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.FrozenFunds
	for _, ff := range r.s.frozen {
		if ff.IsMatured(now) {
			out = append(out, *ff)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *FrozenFundsRepo) SumFrozenByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sum := decimal.Zero
	for _, ff := range r.s.frozen {
		if ff.WalletID == walletID && ff.IsFrozen() {
			sum = sum.Add(ff.Amount)
		}
	}
	return sum, nil
}
