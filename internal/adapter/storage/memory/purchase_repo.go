package memory

import (
	"context"
	"fmt"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PurchaseRepo implements ports.PurchaseRepository.
type PurchaseRepo struct {
	s *Store
}

// NewPurchaseRepo creates a PurchaseRepo over s.
func NewPurchaseRepo(s *Store) *PurchaseRepo {
	return &PurchaseRepo{s: s}
}

func (r *PurchaseRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		if p.Status == domain.PurchaseStatusPaid {
			for _, existing := range r.s.purchases {
				if existing.BuyerID == p.BuyerID && existing.ItemID == p.ItemID && existing.Status == domain.PurchaseStatusPaid {
					return nil, fmt.Errorf("insert purchase: buyer %s already owns item %s", p.BuyerID, p.ItemID)
				}
			}
		}
		cp := *p
		r.s.purchases[p.ID] = &cp
		return func() { delete(r.s.purchases, p.ID) }, nil
	})
}

func (r *PurchaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.purchases[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *PurchaseRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PurchaseRecord, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if err := r.s.lock(ctx, t, lockKey("purchases", id)); err != nil {
		return nil, fmt.Errorf("get purchase for update: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PurchaseRepo) ExistsPaid(ctx context.Context, tx pgx.Tx, buyerID, itemID uuid.UUID) (bool, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.purchases {
		if p.BuyerID == buyerID && p.ItemID == itemID && p.Status == domain.PurchaseStatusPaid {
			return true, nil
		}
	}
	return false, nil
}

func (r *PurchaseRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	err = r.s.write(t, func() (func(), error) {
		stored, ok := r.s.purchases[p.ID]
		if !ok || stored.Status != domain.PurchaseStatusPaid {
			return nil, fmt.Errorf("purchase %s is not in paid state", p.ID)
		}
		prev := *stored
		stored.Status = domain.PurchaseStatusRefunded
		stored.RefundBuyerTransactionID = p.RefundBuyerTransactionID
		stored.RefundSellerTransactionID = p.RefundSellerTransactionID
		stored.IsGift = p.IsGift
		return func() { *stored = prev }, nil
	})
	if err != nil {
		return err
	}
	p.Status = domain.PurchaseStatusRefunded
	return nil
}
