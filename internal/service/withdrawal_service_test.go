package service

import (
	"context"
	"testing"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports/mocks"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestWithdrawalService_SettleSubmitted_TransactionNoLongerPending(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	txRepo := mocks.NewMockTransactionRepository(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)
	svc := NewWithdrawalService(walletRepo, txRepo, mocks.NewMockBankRepository(ctrl), transactor,
		mocks.NewMockPayoutGateway(ctrl), nil, alerter, dec("1000"), newTestLogger())

	ctx := context.Background()
	tx := &mockTx{}
	txn := &domain.Transaction{ID: uuid.New(), ExternalID: "wd_01", Amount: dec("1500"), Type: domain.TransactionTypeWithdraw}
	canceled := *txn
	canceled.Status = domain.TransactionStatusCanceled

	transactor.EXPECT().Begin(ctx).Return(tx, nil)
	txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txn.ID).Return(&canceled, nil)
	alerter.EXPECT().Alert(ctx, "accepted payout without pending transaction", gomock.Any())

	err := svc.settleSubmitted(ctx, txn)
	assert.True(t, apperror.HasCode(err, "SYS_004"), "got %v", err)
}

func TestWithdrawalService_SettleSubmitted_BalanceGone(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	txRepo := mocks.NewMockTransactionRepository(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	alerter := mocks.NewMockAlerter(ctrl)
	svc := NewWithdrawalService(walletRepo, txRepo, mocks.NewMockBankRepository(ctrl), transactor,
		mocks.NewMockPayoutGateway(ctrl), nil, alerter, dec("1000"), newTestLogger())

	ctx := context.Background()
	tx := &mockTx{}
	wallet := &domain.Wallet{ID: uuid.New(), Balance: dec("100")}
	txn := &domain.Transaction{
		ID: uuid.New(), ExternalID: "wd_02", WalletID: wallet.ID, Amount: dec("1500"),
		Type: domain.TransactionTypeWithdraw, Status: domain.TransactionStatusPending, CreatedAt: time.Now(),
	}

	transactor.EXPECT().Begin(ctx).Return(tx, nil)
	txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txn.ID).Return(txn, nil)
	walletRepo.EXPECT().GetByIDForUpdate(ctx, tx, wallet.ID).Return(wallet, nil)
	alerter.EXPECT().Alert(ctx, "accepted payout exceeds balance", gomock.Any())

	err := svc.settleSubmitted(ctx, txn)
	assert.True(t, apperror.HasCode(err, "PAY_001"), "got %v", err)
	assert.Nil(t, txn.SubmittedAt)
}
