package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, external_id, wallet_id, amount, type, status, receipt_status,
		payment_id, submitted_at, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.ExternalID, t.WalletID, t.Amount, t.Type, t.Status, t.ReceiptStatus,
		t.PaymentID, t.SubmittedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID fetches a transaction by its gateway correlation id.
func (r *TransactionRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, externalID))
}

// GetByIDForUpdate fetches a transaction with pessimistic locking.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// TransitionStatus applies a status change only if the row is still in the
// expected status. Returns false when another writer got there first.
func (r *TransactionRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	query := `UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`

	tag, err := tx.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition transaction status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSubmitted records that the payout provider accepted a withdrawal.
func (r *TransactionRepo) MarkSubmitted(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE transactions SET submitted_at = $1, updated_at = NOW() WHERE id = $2 AND submitted_at IS NULL`

	tag, err := tx.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("mark transaction submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s already submitted or missing", id)
	}
	return nil
}

// SetPaymentID stores the card provider's payment id.
func (r *TransactionRepo) SetPaymentID(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymentID string) error {
	query := `UPDATE transactions SET payment_id = $1, updated_at = NOW() WHERE id = $2`

	if _, err := tx.Exec(ctx, query, paymentID, id); err != nil {
		return fmt.Errorf("set payment id: %w", err)
	}
	return nil
}

// UpdateReceiptStatus records the fiscal receipt outcome. It runs outside
// any ledger scope; receipt state never gates money movement.
func (r *TransactionRepo) UpdateReceiptStatus(ctx context.Context, id uuid.UUID, status domain.ReceiptStatus) error {
	query := `UPDATE transactions SET receipt_status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// TransitionReceiptStatus moves receipt_status from one value to another and
// reports whether the row still held from.
func (r *TransactionRepo) TransitionReceiptStatus(ctx context.Context, id uuid.UUID, from, to domain.ReceiptStatus) (bool, error) {
	query := `UPDATE transactions SET receipt_status = $1, updated_at = NOW() WHERE id = $2 AND receipt_status = $3`

	tag, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition receipt status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStalePending returns pending transactions created before olderThan.
// Submitted payouts are excluded: their money already left the wallet and
// only the payout poll may settle them.
func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'pending' AND created_at < $1 AND submitted_at IS NULL
		ORDER BY created_at LIMIT $2`
	return r.queryList(ctx, "list stale pending", query, olderThan, limit)
}

// ListSubmittedPayouts returns pending withdrawals the provider accepted.
func (r *TransactionRepo) ListSubmittedPayouts(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = 'withdraw' AND status = 'pending' AND submitted_at IS NOT NULL
		ORDER BY submitted_at LIMIT $1`
	return r.queryList(ctx, "list submitted payouts", query, limit)
}

// List fetches a wallet's transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
	args = append(args, params.WalletID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	txns, err := r.queryList(ctx, "list transactions", dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *TransactionRepo) queryList(ctx context.Context, op, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate rows: %w", op, err)
	}
	return txns, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.ExternalID, &t.WalletID, &t.Amount, &t.Type, &t.Status, &t.ReceiptStatus,
		&t.PaymentID, &t.SubmittedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", mapLockErr(err))
	}
	return t, nil
}
