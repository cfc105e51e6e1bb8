package service

import (
	"context"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	frozenRepo ports.FrozenFundsRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	frozenRepo ports.FrozenFundsRepository,
) ports.ReportingService {
	return &reportingService{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		frozenRepo: frozenRepo,
	}
}

// GetWallet returns the user's wallet.
func (s *reportingService) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// ListTransactions returns a page of the user's transaction history, newest first.
func (s *reportingService) ListTransactions(ctx context.Context, userID uuid.UUID, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	params.WalletID = wallet.ID
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// CheckWallet compares the wallet's frozen balance with the sum of its
// active escrow rows.
func (s *reportingService) CheckWallet(ctx context.Context, userID uuid.UUID) (*ports.WalletCheck, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, err := s.frozenRepo.SumFrozenByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return &ports.WalletCheck{
		WalletID:       wallet.ID,
		Balance:        wallet.Balance,
		Frozen:         wallet.Frozen,
		FrozenFundsSum: sum,
		Consistent:     sum.Equal(wallet.Frozen) && !wallet.Balance.IsNegative(),
	}, nil
}
