package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Card notification outcomes.
const (
	OutcomeApplied        = "applied"
	OutcomeDuplicate      = "duplicate"
	OutcomeIgnored        = "ignored"
	OutcomeRejected       = "rejected"
	OutcomeUnknownOrder   = "unknown_order"
	OutcomeProviderCancel = "provider_cancel"
)

// Provider payment statuses the ledger reacts to.
const (
	cardStatusConfirmed = "CONFIRMED"
	cardStatusRefunded  = "REFUNDED"
	cardStatusRejected  = "REJECTED"
	cardStatusCanceled  = "CANCELED"
)

var requiredCardFields = []string{"TerminalKey", "OrderId", "Success", "Status", "PaymentId", "ErrorCode", "Amount", "Token"}

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	card       ports.CardGateway
	alerter    ports.Alerter
	audit      ports.AuditService
	pendingTTL time.Duration
	inflight   singleflight.Group
	now        func() time.Time
	log        zerolog.Logger
}

var _ ports.ReconciliationService = (*ReconciliationServiceImpl)(nil)

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	card ports.CardGateway,
	alerter ports.Alerter,
	audit ports.AuditService,
	pendingTTL time.Duration,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	if pendingTTL <= 0 {
		pendingTTL = domain.DefaultPendingTTL
	}
	return &ReconciliationServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		transactor: transactor,
		card:       card,
		alerter:    alerter,
		audit:      audit,
		pendingTTL: pendingTTL,
		now:        time.Now,
		log:        log,
	}
}

// cardNotification is the typed view of the fields the ledger uses.
type cardNotification struct {
	TerminalKey string
	OrderID     string
	Success     bool
	Status      string
	PaymentID   string
	ErrorCode   string
	AmountMinor int64
}

// HandleCardNotification verifies and applies one card provider
// notification. Integrity failures are audited and reported as the
// "rejected" outcome with a nil error so the provider stops retrying.
func (s *ReconciliationServiceImpl) HandleCardNotification(ctx context.Context, fields map[string]any) (*ports.ReconcileResult, error) {
	n, err := parseCardNotification(fields)
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues("card", "malformed").Inc()
		return nil, err
	}

	token := fieldString(fields, "Token")
	v, err, _ := s.inflight.Do(n.OrderID+":"+token, func() (any, error) {
		return s.handleCard(ctx, fields, n)
	})
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues("card", "error").Inc()
		return nil, err
	}
	res := v.(*ports.ReconcileResult)
	metrics.WebhookNotifications.WithLabelValues("card", res.Outcome).Inc()
	return res, nil
}

func (s *ReconciliationServiceImpl) handleCard(ctx context.Context, fields map[string]any, n *cardNotification) (*ports.ReconcileResult, error) {
	if n.TerminalKey != s.card.TerminalKey() {
		return s.reject(ctx, n, apperror.ErrTerminalMismatch()), nil
	}
	if !s.card.VerifyNotification(fields) {
		return s.reject(ctx, n, apperror.ErrInvalidSignature()), nil
	}

	txn, err := s.txRepo.GetByExternalID(ctx, n.OrderID)
	if err != nil {
		return nil, dbError("get transaction", err)
	}
	if txn == nil {
		s.log.Warn().Str("order_id", n.OrderID).Str("status", n.Status).Msg("card notification for unknown order")
		return &ports.ReconcileResult{Outcome: OutcomeUnknownOrder}, nil
	}
	if txn.AmountMinor() != n.AmountMinor {
		return s.reject(ctx, n, apperror.ErrAmountMismatch()), nil
	}

	log := s.log.With().
		Str("order_id", n.OrderID).
		Str("payment_id", n.PaymentID).
		Str("status", n.Status).
		Logger()

	if n.ErrorCode != "0" || n.Status == cardStatusRejected || n.Status == cardStatusCanceled ||
		txn.IsExpired(s.now(), s.pendingTTL) {
		log.Info().Str("error_code", n.ErrorCode).Str("local_status", string(txn.Status)).Msg("cancelling provider payment")
		return s.cancelAtProvider(ctx, txn, n.PaymentID), nil
	}

	switch {
	case n.Status == cardStatusConfirmed && n.Success:
		return s.applyConfirmed(ctx, txn, n, log)
	case n.Status == cardStatusRefunded && n.Success:
		return s.applyRefunded(ctx, txn, n, log)
	default:
		log.Debug().Msg("intermediate card status, nothing to apply")
		return &ports.ReconcileResult{Outcome: OutcomeIgnored, TransactionID: txn.ID}, nil
	}
}

func (s *ReconciliationServiceImpl) applyConfirmed(ctx context.Context, txn *domain.Transaction, n *cardNotification, log zerolog.Logger) (*ports.ReconcileResult, error) {
	outcome, err := s.inScope(ctx, txn.ID, func(scope *reconcileScope) (string, error) {
		switch scope.txn.Status {
		case domain.TransactionStatusPending:
		case domain.TransactionStatusPaid:
			return OutcomeDuplicate, nil
		default:
			return OutcomeProviderCancel, nil
		}

		wallet, err := scope.lockWallet()
		if err != nil {
			return "", err
		}
		applied, err := s.txRepo.TransitionStatus(ctx, scope.dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusPaid)
		if err != nil {
			return "", dbError("mark transaction paid", err)
		}
		if !applied {
			return OutcomeDuplicate, nil
		}
		if scope.txn.Type == domain.TransactionTypeDeposit {
			if err := s.walletRepo.UpdateBalances(ctx, scope.dbTx, wallet.ID, wallet.Balance.Add(scope.txn.Amount), wallet.Frozen); err != nil {
				return "", dbError("credit deposit", err)
			}
		}
		if err := s.txRepo.SetPaymentID(ctx, scope.dbTx, txn.ID, n.PaymentID); err != nil {
			return "", dbError("set payment id", err)
		}
		return OutcomeApplied, nil
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case OutcomeProviderCancel:
		log.Info().Msg("confirmation for a closed transaction, cancelling provider payment")
		return s.cancelAtProvider(ctx, txn, n.PaymentID), nil
	case OutcomeDuplicate:
		log.Info().Msg("duplicate confirmation ignored")
		return &ports.ReconcileResult{Outcome: OutcomeDuplicate, TransactionID: txn.ID}, nil
	}

	// Conditional so a fiscal callback that already settled the receipt wins.
	if _, err := s.txRepo.TransitionReceiptStatus(ctx, txn.ID, domain.ReceiptStatusPending, domain.ReceiptStatusSent); err != nil {
		log.Warn().Err(err).Msg("failed to update receipt status")
	}
	if err := s.card.Confirm(ctx, n.PaymentID); err != nil {
		log.Warn().Err(err).Msg("provider confirm failed")
	}

	log.Info().Str("amount", txn.Amount.String()).Msg("card payment applied")
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionWebhookApplied, "transaction", txn.ID.String(), nil, map[string]string{
		"order_id":   n.OrderID,
		"payment_id": n.PaymentID,
		"status":     n.Status,
	}))
	return &ports.ReconcileResult{Outcome: OutcomeApplied, TransactionID: txn.ID}, nil
}

func (s *ReconciliationServiceImpl) applyRefunded(ctx context.Context, txn *domain.Transaction, n *cardNotification, log zerolog.Logger) (*ports.ReconcileResult, error) {
	shortfall := decimal.Zero
	outcome, err := s.inScope(ctx, txn.ID, func(scope *reconcileScope) (string, error) {
		switch scope.txn.Status {
		case domain.TransactionStatusPending:
			applied, err := s.txRepo.TransitionStatus(ctx, scope.dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusCanceled)
			if err != nil {
				return "", dbError("cancel transaction", err)
			}
			if !applied {
				return OutcomeDuplicate, nil
			}
			return OutcomeApplied, nil
		case domain.TransactionStatusPaid:
		default:
			return OutcomeDuplicate, nil
		}

		wallet, err := scope.lockWallet()
		if err != nil {
			return "", err
		}
		debit := decimal.Min(wallet.Balance, scope.txn.Amount)
		shortfall = scope.txn.Amount.Sub(debit)
		if err := s.walletRepo.UpdateBalances(ctx, scope.dbTx, wallet.ID, wallet.Balance.Sub(debit), wallet.Frozen); err != nil {
			return "", dbError("debit refunded deposit", err)
		}
		applied, err := s.txRepo.TransitionStatus(ctx, scope.dbTx, txn.ID, domain.TransactionStatusPaid, domain.TransactionStatusCanceled)
		if err != nil {
			return "", dbError("cancel refunded transaction", err)
		}
		if !applied {
			return "", apperror.ErrInconsistentLedger(fmt.Errorf("transaction %s left paid state under lock", txn.ID))
		}
		return OutcomeApplied, nil
	})
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeDuplicate {
		log.Info().Msg("refund notification already applied")
		return &ports.ReconcileResult{Outcome: OutcomeDuplicate, TransactionID: txn.ID}, nil
	}

	details := map[string]string{
		"order_id":   n.OrderID,
		"payment_id": n.PaymentID,
		"status":     n.Status,
	}
	if shortfall.IsPositive() {
		details["shortfall"] = shortfall.String()
		log.Error().Str("shortfall", shortfall.String()).Msg("provider refund exceeds wallet balance")
		s.alerter.Alert(ctx, "provider refund exceeds wallet balance", map[string]string{
			"order_id":  n.OrderID,
			"wallet_id": txn.WalletID.String(),
			"shortfall": shortfall.String(),
		})
	}
	log.Info().Str("amount", txn.Amount.String()).Msg("provider refund applied")
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionWebhookApplied, "transaction", txn.ID.String(), nil, details))
	return &ports.ReconcileResult{Outcome: OutcomeApplied, TransactionID: txn.ID}, nil
}

// reconcileScope is one atomic scope holding the transaction row lock.
type reconcileScope struct {
	ctx        context.Context
	dbTx       pgx.Tx
	txn        *domain.Transaction
	walletRepo ports.WalletRepository
}

// lockWallet locks the wallet owning the scope's transaction.
func (sc *reconcileScope) lockWallet() (*domain.Wallet, error) {
	wallet, err := sc.walletRepo.GetByIDForUpdate(sc.ctx, sc.dbTx, sc.txn.WalletID)
	if err != nil {
		return nil, dbError("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	return wallet, nil
}

// inScope runs fn with the transaction locked and commits only when fn
// reports the applied outcome.
func (s *ReconciliationServiceImpl) inScope(ctx context.Context, txnID uuid.UUID, fn func(scope *reconcileScope) (string, error)) (string, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txnID)
	if err != nil {
		return "", dbError("lock transaction", err)
	}
	if txn == nil {
		return "", apperror.ErrNotFound("transaction")
	}

	outcome, err := fn(&reconcileScope{ctx: ctx, dbTx: dbTx, txn: txn, walletRepo: s.walletRepo})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeApplied {
		if err := dbTx.Commit(ctx); err != nil {
			return "", dbError("commit notification", err)
		}
	}
	return outcome, nil
}

func (s *ReconciliationServiceImpl) reject(ctx context.Context, n *cardNotification, reason *apperror.AppError) *ports.ReconcileResult {
	s.log.Warn().
		Str("order_id", n.OrderID).
		Str("terminal_key", n.TerminalKey).
		Str("error_code", reason.Code).
		Msg("card notification rejected")
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionWebhookRejected, "transaction", n.OrderID, nil, map[string]string{
		"reason":     reason.Code,
		"message":    reason.Message,
		"status":     n.Status,
		"payment_id": n.PaymentID,
		"amount":     strconv.FormatInt(n.AmountMinor, 10),
	}))
	return &ports.ReconcileResult{Outcome: OutcomeRejected}
}

// cancelAtProvider asks the provider to void the payment. Local state is
// never changed here; a failed call is logged and the provider's own retry
// brings the notification back.
func (s *ReconciliationServiceImpl) cancelAtProvider(ctx context.Context, txn *domain.Transaction, paymentID string) *ports.ReconcileResult {
	if err := s.card.Cancel(ctx, paymentID); err != nil {
		s.log.Warn().Err(err).Str("order_id", txn.ExternalID).Str("payment_id", paymentID).Msg("provider cancel failed")
	}
	return &ports.ReconcileResult{Outcome: OutcomeProviderCancel, TransactionID: txn.ID}
}

// Fiscal callback statuses.
const (
	receiptCallbackDone = "done"
	receiptCallbackFail = "fail"
)

// HandleReceiptCallback records the fiscal service's verdict on a receipt.
func (s *ReconciliationServiceImpl) HandleReceiptCallback(ctx context.Context, externalID, status string) error {
	if externalID == "" {
		metrics.WebhookNotifications.WithLabelValues("receipt", "malformed").Inc()
		return apperror.ErrMalformedNotification("external_id")
	}

	txn, err := s.txRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return dbError("get transaction", err)
	}
	if txn == nil {
		metrics.WebhookNotifications.WithLabelValues("receipt", OutcomeUnknownOrder).Inc()
		return apperror.ErrNotFound("transaction")
	}

	next := domain.ReceiptStatusPending
	switch strings.ToLower(status) {
	case receiptCallbackDone:
		next = domain.ReceiptStatusSent
	case receiptCallbackFail:
		next = domain.ReceiptStatusFailed
	}
	if err := s.txRepo.UpdateReceiptStatus(ctx, txn.ID, next); err != nil {
		return dbError("update receipt status", err)
	}
	metrics.WebhookNotifications.WithLabelValues("receipt", string(next)).Inc()

	if next == domain.ReceiptStatusFailed {
		fields := map[string]string{
			"transaction_id": txn.ID.String(),
			"external_id":    externalID,
			"amount":         txn.Amount.String(),
		}
		s.log.Error().Str("external_id", externalID).Msg("fiscal service reported receipt failure")
		s.alerter.Alert(ctx, "fiscal receipt failed", fields)
		s.audit.Log(ctx, newAuditEntry(domain.AuditActionReceiptFailed, "transaction", txn.ID.String(), nil, fields))
	}
	return nil
}

func parseCardNotification(fields map[string]any) (*cardNotification, error) {
	for _, key := range requiredCardFields {
		if v, ok := fields[key]; !ok || v == nil {
			return nil, apperror.ErrMalformedNotification(key)
		}
	}

	n := &cardNotification{
		TerminalKey: fieldString(fields, "TerminalKey"),
		OrderID:     fieldString(fields, "OrderId"),
		Status:      strings.ToUpper(fieldString(fields, "Status")),
		PaymentID:   fieldString(fields, "PaymentId"),
		ErrorCode:   fieldString(fields, "ErrorCode"),
	}
	if n.OrderID == "" {
		return nil, apperror.ErrMalformedNotification("OrderId")
	}

	success, err := strconv.ParseBool(fieldString(fields, "Success"))
	if err != nil {
		return nil, apperror.ErrMalformedNotification("Success")
	}
	n.Success = success

	amount, err := strconv.ParseInt(fieldString(fields, "Amount"), 10, 64)
	if err != nil || amount < 0 {
		return nil, apperror.ErrMalformedNotification("Amount")
	}
	n.AmountMinor = amount
	return n, nil
}

// fieldString renders a scalar notification value as the provider sent it.
func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
