package postgres

import (
	"context"
	"errors"
	"fmt"

	"escrow-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// BankRepo implements ports.BankRepository.
type BankRepo struct {
	pool Pool
}

// NewBankRepo creates a new BankRepo.
func NewBankRepo(pool Pool) *BankRepo {
	return &BankRepo{pool: pool}
}

// GetByName resolves a bank by its display name (case-insensitive).
func (r *BankRepo) GetByName(ctx context.Context, name string) (*domain.Bank, error) {
	query := `SELECT name, bank_id FROM banks WHERE lower(name) = lower($1)`

	b := &domain.Bank{}
	if err := r.pool.QueryRow(ctx, query, name).Scan(&b.Name, &b.BankID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bank by name: %w", err)
	}
	return b, nil
}

// List returns every known bank ordered by name.
func (r *BankRepo) List(ctx context.Context) ([]domain.Bank, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, bank_id FROM banks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	defer rows.Close()

	var banks []domain.Bank
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.Name, &b.BankID); err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}
