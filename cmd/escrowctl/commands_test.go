package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/core/ports/mocks"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeLedger struct {
	jobs      *mocks.MockJobRunner
	refunds   *mocks.MockRefundService
	reporting *mocks.MockReportingService
	wallets   *mocks.MockWalletRepository
	tokens    *mocks.MockTokenService
	closed    bool
}

func newFakeLedger(t *testing.T) *fakeLedger {
	ctrl := gomock.NewController(t)
	return &fakeLedger{
		jobs:      mocks.NewMockJobRunner(ctrl),
		refunds:   mocks.NewMockRefundService(ctrl),
		reporting: mocks.NewMockReportingService(ctrl),
		wallets:   mocks.NewMockWalletRepository(ctrl),
		tokens:    mocks.NewMockTokenService(ctrl),
	}
}

func (f *fakeLedger) run(args ...string) (string, error) {
	open := func(context.Context, string) (*ledgerOps, error) {
		return &ledgerOps{
			jobs:      f.jobs,
			refunds:   f.refunds,
			reporting: f.reporting,
			wallets:   f.wallets,
			tokens:    f.tokens,
			close:     func() { f.closed = true },
		}, nil
	}
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSweepCommands(t *testing.T) {
	for _, job := range []string{ports.JobReleaseEscrow, ports.JobExpirePending, ports.JobPollPayouts} {
		t.Run(job, func(t *testing.T) {
			f := newFakeLedger(t)
			f.jobs.EXPECT().Run(gomock.Any(), job).Return(&ports.SweepReport{Job: job, Scanned: 4, Applied: 3, Failed: 1}, nil)

			out, err := f.run("sweep", job)
			require.NoError(t, err)
			assert.Contains(t, out, `"applied": 3`)
			assert.True(t, f.closed)
		})
	}
}

func TestSweep_LockHeld(t *testing.T) {
	f := newFakeLedger(t)
	f.jobs.EXPECT().Run(gomock.Any(), ports.JobReleaseEscrow).Return(nil, apperror.ErrJobRunning(ports.JobReleaseEscrow))

	_, err := f.run("sweep", ports.JobReleaseEscrow)
	assert.True(t, apperror.HasCode(err, "SYS_003"))
}

func TestRefundApprove(t *testing.T) {
	f := newFakeLedger(t)
	refundID, staffID := uuid.New(), uuid.New()
	f.refunds.EXPECT().Approve(gomock.Any(), refundID, staffID).Return(&domain.RefundRequest{ID: refundID, Status: domain.RefundStatusApproved}, nil)

	out, err := f.run("refund", "approve", refundID.String(), "--staff", staffID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "approved"`)
}

func TestRefundReject_PassesComment(t *testing.T) {
	f := newFakeLedger(t)
	refundID, staffID := uuid.New(), uuid.New()
	f.refunds.EXPECT().Reject(gomock.Any(), refundID, staffID, "duplicate request").
		Return(&domain.RefundRequest{ID: refundID, Status: domain.RefundStatusRejected}, nil)

	_, err := f.run("refund", "reject", refundID.String(), "--staff", staffID.String(), "--comment", "duplicate request")
	require.NoError(t, err)
}

func TestRefund_RequiresStaff(t *testing.T) {
	f := newFakeLedger(t)

	_, err := f.run("refund", "complete", uuid.NewString())
	assert.Error(t, err)
	assert.False(t, f.closed, "ledger must not be opened")
}

func TestRefund_BadID(t *testing.T) {
	f := newFakeLedger(t)

	_, err := f.run("refund", "fail", "abc", "--staff", uuid.NewString())
	assert.ErrorContains(t, err, "invalid refund id")
}

func TestWalletCheck_Inconsistent(t *testing.T) {
	f := newFakeLedger(t)
	userID := uuid.New()
	f.reporting.EXPECT().CheckWallet(gomock.Any(), userID).Return(&ports.WalletCheck{
		WalletID:       uuid.New(),
		Frozen:         decimal.NewFromInt(80),
		FrozenFundsSum: decimal.NewFromInt(160),
		Consistent:     false,
	}, nil)

	out, err := f.run("wallet", "check", userID.String())
	assert.ErrorContains(t, err, "inconsistent")
	assert.Contains(t, out, `"consistent": false`)
}

func TestWalletCreate(t *testing.T) {
	f := newFakeLedger(t)
	userID := uuid.New()
	f.wallets.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, w *domain.Wallet) error {
		assert.Equal(t, userID, w.UserID)
		assert.True(t, w.Balance.IsZero())
		return nil
	})

	out, err := f.run("wallet", "create", userID.String())
	require.NoError(t, err)
	assert.Contains(t, out, userID.String())
}

func TestWalletCreate_Duplicate(t *testing.T) {
	f := newFakeLedger(t)
	f.wallets.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("user already has a wallet"))

	_, err := f.run("wallet", "create", uuid.NewString())
	assert.ErrorContains(t, err, "create wallet")
}

func TestToken(t *testing.T) {
	f := newFakeLedger(t)
	userID := uuid.New()
	expiresAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.tokens.EXPECT().Generate(userID, true).Return("signed.jwt.token", expiresAt, nil)

	out, err := f.run("token", userID.String(), "--staff")
	require.NoError(t, err)
	assert.Contains(t, out, `"token": "signed.jwt.token"`)
	assert.Contains(t, out, `"is_staff": true`)
	assert.Contains(t, out, `"expires_at": "2026-01-02T03:04:05Z"`)
	assert.True(t, f.closed)
}

func TestToken_DefaultsToRegularUser(t *testing.T) {
	f := newFakeLedger(t)
	userID := uuid.New()
	f.tokens.EXPECT().Generate(userID, false).Return("t", time.Now(), nil)

	out, err := f.run("token", userID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"is_staff": false`)
}

func TestToken_BadUserID(t *testing.T) {
	f := newFakeLedger(t)

	_, err := f.run("token", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid user id")
	assert.False(t, f.closed)
}
