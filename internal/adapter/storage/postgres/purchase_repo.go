package postgres

import (
	"context"
	"errors"
	"fmt"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const purchaseColumns = `id, item_id, buyer_id, seller_id, buyer_transaction_id, seller_transaction_id,
		refund_buyer_transaction_id, refund_seller_transaction_id,
		payment_amount, commission, net_amount, status, is_gift, created_at`

// PurchaseRepo implements ports.PurchaseRepository.
type PurchaseRepo struct {
	pool Pool
}

// NewPurchaseRepo creates a new PurchaseRepo.
func NewPurchaseRepo(pool Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

// Create inserts a purchase record within a database transaction.
func (r *PurchaseRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error {
	query := `INSERT INTO purchases (` + purchaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.ItemID, p.BuyerID, p.SellerID, p.BuyerTransactionID, p.SellerTransactionID,
		p.RefundBuyerTransactionID, p.RefundSellerTransactionID,
		p.PaymentAmount, p.Commission, p.NetAmount, p.Status, p.IsGift, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// GetByID fetches a purchase record (non-locking read).
func (r *PurchaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`
	return scanPurchase(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate locks a purchase record.
func (r *PurchaseRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1 FOR UPDATE`
	return scanPurchase(tx.QueryRow(ctx, query, id))
}

// ExistsPaid checks for a live purchase of item by buyer. Called after the
// buyer wallet is locked, so two purchases by the same buyer serialize here.
func (r *PurchaseRepo) ExistsPaid(ctx context.Context, tx pgx.Tx, buyerID, itemID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM purchases WHERE buyer_id = $1 AND item_id = $2 AND status = 'paid')`

	var exists bool
	if err := tx.QueryRow(ctx, query, buyerID, itemID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check purchase exists: %w", err)
	}
	return exists, nil
}

// MarkRefunded stores the refund references and the refunded status.
func (r *PurchaseRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, p *domain.PurchaseRecord) error {
	query := `UPDATE purchases SET status = $1, refund_buyer_transaction_id = $2,
		refund_seller_transaction_id = $3, is_gift = $4 WHERE id = $5 AND status = 'paid'`

	tag, err := tx.Exec(ctx, query,
		domain.PurchaseStatusRefunded, p.RefundBuyerTransactionID, p.RefundSellerTransactionID, p.IsGift, p.ID,
	)
	if err != nil {
		return fmt.Errorf("mark purchase refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase %s is not in paid state", p.ID)
	}
	p.Status = domain.PurchaseStatusRefunded
	return nil
}

func scanPurchase(row pgx.Row) (*domain.PurchaseRecord, error) {
	p := &domain.PurchaseRecord{}
	err := row.Scan(
		&p.ID, &p.ItemID, &p.BuyerID, &p.SellerID, &p.BuyerTransactionID, &p.SellerTransactionID,
		&p.RefundBuyerTransactionID, &p.RefundSellerTransactionID,
		&p.PaymentAmount, &p.Commission, &p.NetAmount, &p.Status, &p.IsGift, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", mapLockErr(err))
	}
	return p, nil
}
