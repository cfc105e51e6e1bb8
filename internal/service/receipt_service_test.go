package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
)

type receiptTestDeps struct {
	svc     *ReceiptServiceImpl
	fiscal  *mocks.MockFiscalClient
	txRepo  *mocks.MockTransactionRepository
	alerter *mocks.MockAlerter
	audit   *mocks.MockAuditService
}

func setupReceiptService(t *testing.T) *receiptTestDeps {
	ctrl := gomock.NewController(t)
	d := &receiptTestDeps{
		fiscal:  mocks.NewMockFiscalClient(ctrl),
		txRepo:  mocks.NewMockTransactionRepository(ctrl),
		alerter: mocks.NewMockAlerter(ctrl),
		audit:   mocks.NewMockAuditService(ctrl),
	}
	d.svc = NewReceiptService(d.fiscal, d.txRepo, d.alerter, d.audit, newTestLogger())
	d.svc.retry = []time.Duration{time.Millisecond, time.Millisecond}
	return d
}

func testSale() (*domain.Transaction, ports.FiscalReceipt) {
	txn := &domain.Transaction{ID: uuid.New(), ExternalID: "buy_01", Amount: decimal.NewFromInt(100)}
	return txn, ports.FiscalReceipt{
		Kind:       ports.ReceiptKindSell,
		ExternalID: txn.ExternalID,
		Email:      "buyer@example.com",
		ItemName:   "Course",
		Amount:     txn.Amount,
	}
}

func TestReceiptService_NotifySale_FirstAttempt(t *testing.T) {
	d := setupReceiptService(t)
	txn, receipt := testSale()

	d.fiscal.EXPECT().Issue(gomock.Any(), receipt).Return(nil)

	d.svc.NotifySale(context.Background(), txn, receipt)
	d.svc.Wait()
}

func TestReceiptService_NotifySale_RetriesThenSucceeds(t *testing.T) {
	d := setupReceiptService(t)
	txn, receipt := testSale()

	gomock.InOrder(
		d.fiscal.EXPECT().Issue(gomock.Any(), receipt).Return(errors.New("timeout")),
		d.fiscal.EXPECT().Issue(gomock.Any(), receipt).Return(nil),
	)

	d.svc.NotifySale(context.Background(), txn, receipt)
	d.svc.Wait()
}

func TestReceiptService_NotifySale_ExhaustedMarksFailed(t *testing.T) {
	d := setupReceiptService(t)
	txn, receipt := testSale()

	d.fiscal.EXPECT().Issue(gomock.Any(), receipt).Return(errors.New("unavailable")).Times(3)
	d.txRepo.EXPECT().UpdateReceiptStatus(gomock.Any(), txn.ID, domain.ReceiptStatusFailed).Return(nil)
	d.alerter.EXPECT().Alert(gomock.Any(), "fiscal receipt failed", gomock.Any())
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		if e.Action != domain.AuditActionReceiptFailed {
			t.Errorf("unexpected audit action %s", e.Action)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.svc.NotifySale(ctx, txn, receipt)
	cancel()
	d.svc.Wait()
}

func TestReceiptService_Close_AbandonsRetries(t *testing.T) {
	d := setupReceiptService(t)
	d.svc.retry = []time.Duration{time.Hour}
	txn, receipt := testSale()

	d.fiscal.EXPECT().Issue(gomock.Any(), receipt).Return(errors.New("unavailable"))

	d.svc.NotifySale(context.Background(), txn, receipt)

	done := make(chan struct{})
	go func() {
		d.svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the pending retry")
	}
}

func TestReceiptService_NilFiscalClientSkips(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewReceiptService(nil, mocks.NewMockTransactionRepository(ctrl), mocks.NewMockAlerter(ctrl),
		mocks.NewMockAuditService(ctrl), newTestLogger())

	txn, receipt := testSale()
	svc.NotifySale(context.Background(), txn, receipt)
	svc.Wait()
}
