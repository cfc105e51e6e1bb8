package postgres

import (
	"context"
	"errors"
	"fmt"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const refundColumns = `id, purchase_id, status, reason, contact_info, admin_comment, keep_product,
		is_admin_created, requested_at, processed_at, completed_at, processed_by`

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

// Create inserts a refund request.
func (r *RefundRepo) Create(ctx context.Context, tx pgx.Tx, rr *domain.RefundRequest) error {
	query := `INSERT INTO refund_requests (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		rr.ID, rr.PurchaseID, rr.Status, rr.Reason, rr.ContactInfo, rr.AdminComment, rr.KeepProduct,
		rr.IsAdminCreated, rr.RequestedAt, rr.ProcessedAt, rr.CompletedAt, rr.ProcessedBy,
	)
	if err != nil {
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

// GetByID fetches a refund request (non-locking read).
func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1`
	return scanRefund(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate locks a refund request.
func (r *RefundRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundRequest, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE id = $1 FOR UPDATE`
	return scanRefund(tx.QueryRow(ctx, query, id))
}

// HasOpen reports whether the purchase has a refund request awaiting staff.
func (r *RefundRepo) HasOpen(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM refund_requests
		WHERE purchase_id = $1 AND status IN ('requested', 'processing'))`

	var exists bool
	if err := tx.QueryRow(ctx, query, purchaseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check open refund: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields of a locked refund request.
func (r *RefundRepo) Update(ctx context.Context, tx pgx.Tx, rr *domain.RefundRequest) error {
	query := `UPDATE refund_requests SET status = $1, admin_comment = $2, processed_at = $3,
		completed_at = $4, processed_by = $5 WHERE id = $6`

	tag, err := tx.Exec(ctx, query,
		rr.Status, rr.AdminComment, rr.ProcessedAt, rr.CompletedAt, rr.ProcessedBy, rr.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund request not found: %s", rr.ID)
	}
	return nil
}

func scanRefund(row pgx.Row) (*domain.RefundRequest, error) {
	rr := &domain.RefundRequest{}
	err := row.Scan(
		&rr.ID, &rr.PurchaseID, &rr.Status, &rr.Reason, &rr.ContactInfo, &rr.AdminComment, &rr.KeepProduct,
		&rr.IsAdminCreated, &rr.RequestedAt, &rr.ProcessedAt, &rr.CompletedAt, &rr.ProcessedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan refund request: %w", mapLockErr(err))
	}
	return rr, nil
}
