package service

import (
	"context"
	"fmt"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RefundServiceImpl implements ports.RefundService.
type RefundServiceImpl struct {
	walletRepo   ports.WalletRepository
	txRepo       ports.TransactionRepository
	frozenRepo   ports.FrozenFundsRepository
	purchaseRepo ports.PurchaseRepository
	refundRepo   ports.RefundRepository
	transactor   ports.DBTransactor
	receipts     ports.ReceiptNotifier
	alerter      ports.Alerter
	audit        ports.AuditService
	now          func() time.Time
	log          zerolog.Logger
}

var _ ports.RefundService = (*RefundServiceImpl)(nil)

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	frozenRepo ports.FrozenFundsRepository,
	purchaseRepo ports.PurchaseRepository,
	refundRepo ports.RefundRepository,
	transactor ports.DBTransactor,
	receipts ports.ReceiptNotifier,
	alerter ports.Alerter,
	audit ports.AuditService,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		walletRepo:   walletRepo,
		txRepo:       txRepo,
		frozenRepo:   frozenRepo,
		purchaseRepo: purchaseRepo,
		refundRepo:   refundRepo,
		transactor:   transactor,
		receipts:     receipts,
		alerter:      alerter,
		audit:        audit,
		now:          time.Now,
		log:          log,
	}
}

// Request opens a refund request for a paid purchase. Buyers may only refund
// their own purchases; staff may open a request for any purchase.
func (s *RefundServiceImpl) Request(ctx context.Context, req ports.RefundCreateRequest) (*domain.RefundRequest, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, req.PurchaseID)
	if err != nil {
		return nil, dbError("get purchase", err)
	}
	if purchase == nil || (!req.IsStaff && purchase.BuyerID != req.RequesterID) {
		return nil, apperror.ErrNotFound("purchase")
	}
	if !purchase.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// The purchase lock serializes concurrent requests for the same sale.
	purchase, err = s.purchaseRepo.GetByIDForUpdate(ctx, dbTx, req.PurchaseID)
	if err != nil {
		return nil, dbError("lock purchase", err)
	}
	if purchase == nil {
		return nil, apperror.ErrNotFound("purchase")
	}
	if !purchase.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	open, err := s.refundRepo.HasOpen(ctx, dbTx, purchase.ID)
	if err != nil {
		return nil, dbError("check open refunds", err)
	}
	if open {
		return nil, apperror.ErrRefundAlreadyOpen()
	}

	refund := &domain.RefundRequest{
		ID:             uuid.New(),
		PurchaseID:     purchase.ID,
		Status:         domain.RefundStatusRequested,
		Reason:         req.Reason,
		ContactInfo:    req.ContactInfo,
		KeepProduct:    req.KeepProduct,
		IsAdminCreated: req.IsStaff,
		RequestedAt:    s.now().UTC(),
	}
	if err := s.refundRepo.Create(ctx, dbTx, refund); err != nil {
		return nil, dbError("create refund request", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, dbError("commit refund request", err)
	}

	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("purchase_id", purchase.ID.String()).
		Bool("admin_created", refund.IsAdminCreated).
		Msg("refund requested")
	return refund, nil
}

// MarkProcessing moves a requested refund into processing.
func (s *RefundServiceImpl) MarkProcessing(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error) {
	return s.decide(ctx, refundID, staffID, domain.RefundStatusProcessing, "")
}

// Reject closes an open refund without touching the ledger.
func (s *RefundServiceImpl) Reject(ctx context.Context, refundID, staffID uuid.UUID, comment string) (*domain.RefundRequest, error) {
	refund, err := s.decide(ctx, refundID, staffID, domain.RefundStatusRejected, comment)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionRefundRejected, "refund_request", refund.ID.String(), &staffID, map[string]string{
		"purchase_id": refund.PurchaseID.String(),
		"comment":     comment,
	}))
	return refund, nil
}

// Fail closes an open refund as failed.
func (s *RefundServiceImpl) Fail(ctx context.Context, refundID, staffID uuid.UUID, comment string) (*domain.RefundRequest, error) {
	return s.decide(ctx, refundID, staffID, domain.RefundStatusFailed, comment)
}

// Complete marks an approved refund as fully handled.
func (s *RefundServiceImpl) Complete(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error) {
	return s.decide(ctx, refundID, staffID, domain.RefundStatusCompleted, "")
}

// decide applies a status-only transition under the refund row lock.
func (s *RefundServiceImpl) decide(ctx context.Context, refundID, staffID uuid.UUID, next domain.RefundStatus, comment string) (*domain.RefundRequest, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	refund, err := s.lockRefund(ctx, dbTx, refundID, next)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	refund.Status = next
	if comment != "" {
		refund.AdminComment = comment
	}
	if next == domain.RefundStatusCompleted {
		refund.CompletedAt = &now
	} else {
		refund.ProcessedAt = &now
		refund.ProcessedBy = &staffID
	}

	if err := s.refundRepo.Update(ctx, dbTx, refund); err != nil {
		return nil, dbError("update refund request", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, dbError("commit refund transition", err)
	}

	metrics.LedgerOperations.WithLabelValues("refund_"+string(next), "ok").Inc()
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("status", string(next)).
		Str("staff_id", staffID.String()).
		Msg("refund request updated")
	return refund, nil
}

func (s *RefundServiceImpl) lockRefund(ctx context.Context, dbTx pgx.Tx, refundID uuid.UUID, next domain.RefundStatus) (*domain.RefundRequest, error) {
	refund, err := s.refundRepo.GetByIDForUpdate(ctx, dbTx, refundID)
	if err != nil {
		return nil, dbError("lock refund request", err)
	}
	if refund == nil {
		return nil, apperror.ErrNotFound("refund request")
	}
	if !refund.CanTransition(next) {
		return nil, apperror.ErrInvalidRefundTransition(string(refund.Status), string(next))
	}
	return refund, nil
}

// Approve returns the buyer's money and reverses the seller's proceeds in one
// atomic scope. Proceeds still in escrow are cancelled; proceeds already
// released are taken back from the seller's balance.
func (s *RefundServiceImpl) Approve(ctx context.Context, refundID, staffID uuid.UUID) (*domain.RefundRequest, error) {
	res, err := s.approve(ctx, refundID, staffID)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("refund_approved", "error").Inc()
		return nil, err
	}
	metrics.LedgerOperations.WithLabelValues("refund_approved", "ok").Inc()

	s.log.Info().
		Str("refund_id", res.refund.ID.String()).
		Str("purchase_id", res.purchase.ID.String()).
		Str("amount", res.purchase.PaymentAmount.String()).
		Str("escrow", string(res.escrowStatus)).
		Msg("refund approved")

	s.audit.Log(ctx, newAuditEntry(domain.AuditActionRefundApproved, "refund_request", res.refund.ID.String(), &staffID, map[string]string{
		"purchase_id": res.purchase.ID.String(),
		"amount":      res.purchase.PaymentAmount.String(),
		"escrow":      string(res.escrowStatus),
	}))
	if res.shortfall.IsPositive() {
		fields := map[string]string{
			"wallet_id":   res.sellerWalletID.String(),
			"purchase_id": res.purchase.ID.String(),
			"shortfall":   res.shortfall.String(),
		}
		s.alerter.Alert(ctx, "frozen balance repaired on refund", fields)
		s.audit.Log(ctx, newAuditEntry(domain.AuditActionFrozenRepaired, "wallet", res.sellerWalletID.String(), &staffID, fields))
	}

	if !res.purchase.IsGift && s.receipts != nil {
		s.receipts.NotifySale(ctx, res.buyerTxn, ports.FiscalReceipt{
			Kind:       ports.ReceiptKindSellRefund,
			ExternalID: res.buyerTxn.ExternalID,
			ItemName:   fmt.Sprintf("Refund for purchase %s", res.purchase.ID),
			Amount:     res.purchase.PaymentAmount,
		})
	}
	return res.refund, nil
}

type approval struct {
	refund         *domain.RefundRequest
	purchase       *domain.PurchaseRecord
	buyerTxn       *domain.Transaction
	sellerWalletID uuid.UUID
	escrowStatus   domain.FrozenStatus
	shortfall      decimal.Decimal
}

func (s *RefundServiceImpl) approve(ctx context.Context, refundID, staffID uuid.UUID) (*approval, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	refund, err := s.lockRefund(ctx, dbTx, refundID, domain.RefundStatusApproved)
	if err != nil {
		return nil, err
	}

	purchase, err := s.purchaseRepo.GetByIDForUpdate(ctx, dbTx, refund.PurchaseID)
	if err != nil {
		return nil, dbError("lock purchase", err)
	}
	if purchase == nil {
		return nil, apperror.ErrNotFound("purchase")
	}
	if !purchase.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	buyerRef, err := s.walletRepo.GetByUserID(ctx, purchase.BuyerID)
	if err != nil {
		return nil, dbError("get buyer wallet", err)
	}
	sellerRef, err := s.walletRepo.GetByUserID(ctx, purchase.SellerID)
	if err != nil {
		return nil, dbError("get seller wallet", err)
	}
	if buyerRef == nil || sellerRef == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	buyer, seller, err := lockWalletPair(ctx, s.walletRepo, dbTx, buyerRef.ID, sellerRef.ID)
	if err != nil {
		return nil, err
	}

	hold, err := s.frozenRepo.GetByTransactionIDForUpdate(ctx, dbTx, purchase.SellerTransactionID)
	if err != nil {
		return nil, dbError("lock frozen funds", err)
	}
	if hold == nil {
		return nil, apperror.ErrInconsistentLedger(fmt.Errorf("purchase %s has no escrow record", purchase.ID))
	}

	now := s.now().UTC()
	res := &approval{
		refund:         refund,
		purchase:       purchase,
		sellerWalletID: seller.ID,
		escrowStatus:   hold.Status,
		shortfall:      decimal.Zero,
	}

	receiptStatus := domain.ReceiptStatusPending
	if refund.KeepProduct {
		receiptStatus = domain.ReceiptStatusNotRequired
	}
	buyerTxn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixRefund),
		WalletID:      buyer.ID,
		Amount:        purchase.PaymentAmount,
		Type:          domain.TransactionTypeRefund,
		Status:        domain.TransactionStatusPaid,
		ReceiptStatus: receiptStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, buyerTxn); err != nil {
		return nil, dbError("create buyer refund transaction", err)
	}
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, buyer.ID, buyer.Balance.Add(purchase.PaymentAmount), buyer.Frozen); err != nil {
		return nil, dbError("credit buyer", err)
	}
	res.buyerTxn = buyerTxn

	switch hold.Status {
	case domain.FrozenStatusFrozen:
		res.shortfall = seller.CancelFrozen(hold.Amount)
		if res.shortfall.IsPositive() {
			s.log.Error().
				Str("wallet_id", seller.ID.String()).
				Str("purchase_id", purchase.ID.String()).
				Str("shortfall", res.shortfall.String()).
				Msg("frozen balance below escrow amount, taking shortfall from balance")
		}
		if seller.Balance.IsNegative() {
			return nil, apperror.ErrSellerFundsShort()
		}
		if err := s.frozenRepo.UpdateStatus(ctx, dbTx, hold.ID, domain.FrozenStatusCancelled); err != nil {
			return nil, dbError("cancel frozen funds", err)
		}
	case domain.FrozenStatusReleased:
		if !seller.CanDebit(purchase.NetAmount) {
			return nil, apperror.ErrSellerFundsShort()
		}
		seller.Balance = seller.Balance.Sub(purchase.NetAmount)
	case domain.FrozenStatusDisputed:
		// A disputed hold settles through the dispute, not through a refund.
		return nil, apperror.ErrInconsistentLedger(fmt.Errorf("escrow %s is disputed", hold.ID))
	default:
		return nil, apperror.ErrInconsistentLedger(fmt.Errorf("escrow %s is already %s", hold.ID, hold.Status))
	}
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, seller.ID, seller.Balance, seller.Frozen); err != nil {
		return nil, dbError("reverse seller proceeds", err)
	}

	sellerTxn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixRefund),
		WalletID:      seller.ID,
		Amount:        purchase.NetAmount,
		Type:          domain.TransactionTypeRefund,
		Status:        domain.TransactionStatusPaid,
		ReceiptStatus: domain.ReceiptStatusNotRequired,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, sellerTxn); err != nil {
		return nil, dbError("create seller refund transaction", err)
	}

	purchase.RefundBuyerTransactionID = &buyerTxn.ID
	purchase.RefundSellerTransactionID = &sellerTxn.ID
	purchase.IsGift = refund.KeepProduct
	if err := s.purchaseRepo.MarkRefunded(ctx, dbTx, purchase); err != nil {
		return nil, dbError("mark purchase refunded", err)
	}

	refund.Status = domain.RefundStatusApproved
	refund.ProcessedAt = &now
	refund.ProcessedBy = &staffID
	if err := s.refundRepo.Update(ctx, dbTx, refund); err != nil {
		return nil, dbError("update refund request", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, dbError("commit refund approval", err)
	}
	return res, nil
}
