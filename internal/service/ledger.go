package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// dbError maps a repository failure onto the API error taxonomy.
func dbError(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ports.ErrLockTimeout) {
		return apperror.ErrLockTimeout(fmt.Errorf("%s: %w", op, err))
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

// validAmount reports a positive amount with at most two decimal places.
func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// lockWalletPair locks two distinct wallets in ascending id order and returns
// them in argument order.
func lockWalletPair(ctx context.Context, repo ports.WalletRepository, tx pgx.Tx, a, b uuid.UUID) (*domain.Wallet, *domain.Wallet, error) {
	first, second := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		first, second = b, a
	}

	w1, err := repo.GetByIDForUpdate(ctx, tx, first)
	if err != nil {
		return nil, nil, dbError("lock wallet", err)
	}
	w2, err := repo.GetByIDForUpdate(ctx, tx, second)
	if err != nil {
		return nil, nil, dbError("lock wallet", err)
	}
	if w1 == nil || w2 == nil {
		return nil, nil, apperror.ErrNotFound("wallet")
	}

	if first == a {
		return w1, w2, nil
	}
	return w2, w1, nil
}
