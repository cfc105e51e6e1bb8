package memory

import (
	"context"
	"fmt"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct {
	s *Store
}

// NewRefundRepo creates a RefundRepo over s.
func NewRefundRepo(s *Store) *RefundRepo {
	return &RefundRepo{s: s}
}

func (r *RefundRepo) Create(ctx context.Context, tx pgx.Tx, rr *domain.RefundRequest) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		if rr.IsOpen() && r.hasOpenLocked(rr.PurchaseID) {
			return nil, fmt.Errorf("insert refund request: purchase %s has an open request", rr.PurchaseID)
		}
		cp := *rr
		r.s.refunds[rr.ID] = &cp
		return func() { delete(r.s.refunds, rr.ID) }, nil
	})
}

func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rr, ok := r.s.refunds[id]
	if !ok {
		return nil, nil
	}
	cp := *rr
	return &cp, nil
}

func (r *RefundRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundRequest, error) {
	t, err := r.s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if err := r.s.lock(ctx, t, lockKey("refund_requests", id)); err != nil {
		return nil, fmt.Errorf("get refund request for update: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *RefundRepo) HasOpen(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (bool, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.hasOpenLocked(purchaseID), nil
}

func (r *RefundRepo) Update(ctx context.Context, tx pgx.Tx, rr *domain.RefundRequest) error {
	t, err := r.s.txOf(tx)
	if err != nil {
		return err
	}
	return r.s.write(t, func() (func(), error) {
		stored, ok := r.s.refunds[rr.ID]
		if !ok {
			return nil, fmt.Errorf("refund request not found: %s", rr.ID)
		}
		prev := *stored
		stored.Status = rr.Status
		stored.AdminComment = rr.AdminComment
		stored.ProcessedAt = rr.ProcessedAt
		stored.CompletedAt = rr.CompletedAt
		stored.ProcessedBy = rr.ProcessedBy
		return func() { *stored = prev }, nil
	})
}

func (r *RefundRepo) hasOpenLocked(purchaseID uuid.UUID) bool {
	for _, rr := range r.s.refunds {
		if rr.PurchaseID == purchaseID && rr.IsOpen() {
			return true
		}
	}
	return false
}
