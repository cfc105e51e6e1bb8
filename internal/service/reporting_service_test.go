package service

import (
	"context"
	"errors"
	"testing"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/core/ports/mocks"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestReportingService_ListTransactions_ClampsPaging(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxRepo := mocks.NewMockTransactionRepository(ctrl)
	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	svc := NewReportingService(mockTxRepo, mockWalletRepo, mocks.NewMockFrozenFundsRepository(ctrl))

	userID := uuid.New()
	wallet := &domain.Wallet{ID: uuid.New(), UserID: userID}
	status := domain.TransactionStatusPaid

	mockWalletRepo.EXPECT().GetByUserID(gomock.Any(), userID).Return(wallet, nil)
	mockTxRepo.EXPECT().List(gomock.Any(), ports.TransactionListParams{
		WalletID: wallet.ID,
		Status:   &status,
		Page:     1,
		PageSize: 100,
	}).Return([]domain.Transaction{{ID: uuid.New()}}, int64(1), nil)

	txns, total, err := svc.ListTransactions(context.Background(), userID, ports.TransactionListParams{
		WalletID: uuid.New(), // ignored: the wallet always comes from the caller
		Status:   &status,
		Page:     0,
		PageSize: 1000,
	})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
	assert.EqualValues(t, 1, total)
}

func TestReportingService_GetWallet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	svc := NewReportingService(mocks.NewMockTransactionRepository(ctrl), mockWalletRepo, mocks.NewMockFrozenFundsRepository(ctrl))

	mockWalletRepo.EXPECT().GetByUserID(gomock.Any(), gomock.Any()).Return(nil, nil)

	_, err := svc.GetWallet(context.Background(), uuid.New())
	assert.True(t, apperror.HasCode(err, "PAY_004"))
}

func TestReportingService_CheckWallet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockWalletRepo := mocks.NewMockWalletRepository(ctrl)
	mockFrozenRepo := mocks.NewMockFrozenFundsRepository(ctrl)
	svc := NewReportingService(mocks.NewMockTransactionRepository(ctrl), mockWalletRepo, mockFrozenRepo)

	wallet := &domain.Wallet{ID: uuid.New(), Balance: dec("10"), Frozen: dec("80")}
	mockWalletRepo.EXPECT().GetByUserID(gomock.Any(), gomock.Any()).Return(wallet, nil).Times(2)

	mockFrozenRepo.EXPECT().SumFrozenByWallet(gomock.Any(), wallet.ID).Return(dec("80.00"), nil)
	check, err := svc.CheckWallet(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, check.Consistent)

	mockFrozenRepo.EXPECT().SumFrozenByWallet(gomock.Any(), wallet.ID).Return(dec("0"), errors.New("db down"))
	_, err = svc.CheckWallet(context.Background(), uuid.New())
	assert.True(t, apperror.HasCode(err, "SYS_001"))
}
