package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const frozenColumns = `id, wallet_id, transaction_id, amount, reason, status, created_at, release_at`

// FrozenFundsRepo implements ports.FrozenFundsRepository.
type FrozenFundsRepo struct {
	pool Pool
}

// NewFrozenFundsRepo creates a new FrozenFundsRepo.
func NewFrozenFundsRepo(pool Pool) *FrozenFundsRepo {
	return &FrozenFundsRepo{pool: pool}
}

// Create inserts an escrow hold within a database transaction.
func (r *FrozenFundsRepo) Create(ctx context.Context, tx pgx.Tx, ff *domain.FrozenFunds) error {
	query := `INSERT INTO frozen_funds (` + frozenColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		ff.ID, ff.WalletID, ff.TransactionID, ff.Amount, ff.Reason, ff.Status, ff.CreatedAt, ff.ReleaseAt,
	)
	if err != nil {
		return fmt.Errorf("insert frozen funds: %w", err)
	}
	return nil
}

// GetByIDForUpdate locks one escrow hold.
func (r *FrozenFundsRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.FrozenFunds, error) {
	query := `SELECT ` + frozenColumns + ` FROM frozen_funds WHERE id = $1 FOR UPDATE`
	return scanFrozen(tx.QueryRow(ctx, query, id))
}

// GetByTransactionIDForUpdate locks the hold attached to a seller transaction.
func (r *FrozenFundsRepo) GetByTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.FrozenFunds, error) {
	query := `SELECT ` + frozenColumns + ` FROM frozen_funds WHERE transaction_id = $1 FOR UPDATE`
	return scanFrozen(tx.QueryRow(ctx, query, transactionID))
}

// UpdateStatus sets the status of a locked hold.
func (r *FrozenFundsRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.FrozenStatus) error {
	query := `UPDATE frozen_funds SET status = $1 WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update frozen funds status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("frozen funds not found: %s", id)
	}
	return nil
}

// ListMatured returns active holds whose release_at has passed, oldest first.
// The result is a candidate list; callers re-check under the row lock.
func (r *FrozenFundsRepo) ListMatured(ctx context.Context, now time.Time, limit int) ([]domain.FrozenFunds, error) {
	query := `SELECT ` + frozenColumns + ` FROM frozen_funds
		WHERE status = 'frozen' AND release_at <= $1
		ORDER BY created_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list matured frozen funds: %w", err)
	}
	defer rows.Close()

	var out []domain.FrozenFunds
	for rows.Next() {
		var ff domain.FrozenFunds
		if err := rows.Scan(&ff.ID, &ff.WalletID, &ff.TransactionID, &ff.Amount,
			&ff.Reason, &ff.Status, &ff.CreatedAt, &ff.ReleaseAt); err != nil {
			return nil, fmt.Errorf("scan frozen funds row: %w", err)
		}
		out = append(out, ff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frozen funds rows: %w", err)
	}
	return out, nil
}

// SumFrozenByWallet totals the active holds of a wallet.
func (r *FrozenFundsRepo) SumFrozenByWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM frozen_funds WHERE wallet_id = $1 AND status = 'frozen'`

	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, walletID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum frozen funds: %w", err)
	}
	return sum, nil
}

func scanFrozen(row pgx.Row) (*domain.FrozenFunds, error) {
	ff := &domain.FrozenFunds{}
	err := row.Scan(&ff.ID, &ff.WalletID, &ff.TransactionID, &ff.Amount,
		&ff.Reason, &ff.Status, &ff.CreatedAt, &ff.ReleaseAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan frozen funds: %w", mapLockErr(err))
	}
	return ff, nil
}
