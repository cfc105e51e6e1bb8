package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"
	"escrow-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const idempotencyTTL = 24 * time.Hour

// WithdrawalServiceImpl implements ports.WithdrawalService.
type WithdrawalServiceImpl struct {
	walletRepo    ports.WalletRepository
	txRepo        ports.TransactionRepository
	bankRepo      ports.BankRepository
	transactor    ports.DBTransactor
	payout        ports.PayoutGateway
	idempCache    ports.IdempotencyCache
	alerter       ports.Alerter
	minWithdrawal decimal.Decimal
	inflight      singleflight.Group
	now           func() time.Time
	log           zerolog.Logger
}

var _ ports.WithdrawalService = (*WithdrawalServiceImpl)(nil)

// NewWithdrawalService creates a new WithdrawalServiceImpl. idempCache may be
// nil, in which case Idempotency-Key only collapses in-process duplicates.
func NewWithdrawalService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	bankRepo ports.BankRepository,
	transactor ports.DBTransactor,
	payout ports.PayoutGateway,
	idempCache ports.IdempotencyCache,
	alerter ports.Alerter,
	minWithdrawal decimal.Decimal,
	log zerolog.Logger,
) *WithdrawalServiceImpl {
	return &WithdrawalServiceImpl{
		walletRepo:    walletRepo,
		txRepo:        txRepo,
		bankRepo:      bankRepo,
		transactor:    transactor,
		payout:        payout,
		idempCache:    idempCache,
		alerter:       alerter,
		minWithdrawal: minWithdrawal,
		now:           time.Now,
		log:           log,
	}
}

// Withdraw submits a payout and debits the wallet once the provider accepted
// it. The transaction stays pending until the payout poll settles it.
func (s *WithdrawalServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*domain.Transaction, error) {
	if req.IdempotencyKey == "" {
		return s.withdraw(ctx, req)
	}

	idempKey := req.UserID.String() + ":" + req.IdempotencyKey
	v, err, _ := s.inflight.Do(idempKey, func() (any, error) {
		if cached := s.cached(ctx, idempKey); cached != nil {
			return cached, nil
		}
		txn, err := s.withdraw(ctx, req)
		if err != nil {
			return nil, err
		}
		s.remember(ctx, idempKey, txn)
		return txn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Transaction), nil
}

func (s *WithdrawalServiceImpl) cached(ctx context.Context, key string) *domain.Transaction {
	if s.idempCache == nil {
		return nil
	}
	raw, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, processing request")
		return nil
	}
	if raw == nil {
		return nil
	}
	var txn domain.Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt idempotency entry, processing request")
		return nil
	}
	return &txn
}

func (s *WithdrawalServiceImpl) remember(ctx context.Context, key string, txn *domain.Transaction) {
	if s.idempCache == nil {
		return
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, key, raw, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

func (s *WithdrawalServiceImpl) withdraw(ctx context.Context, req ports.WithdrawRequest) (*domain.Transaction, error) {
	payoutReq, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	txn, err := s.reserve(ctx, req)
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("withdraw", "error").Inc()
		return nil, err
	}

	payoutReq.ExternalID = txn.ExternalID
	if err := s.payout.Submit(ctx, payoutReq); err != nil {
		metrics.LedgerOperations.WithLabelValues("withdraw", "rejected").Inc()
		s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("payout rejected, transaction left pending")
		return nil, apperror.ErrPayoutRejected(err)
	}

	if err := s.settleSubmitted(ctx, txn); err != nil {
		metrics.LedgerOperations.WithLabelValues("withdraw", "error").Inc()
		return nil, err
	}

	metrics.LedgerOperations.WithLabelValues("withdraw", "ok").Inc()
	s.log.Info().
		Str("external_id", txn.ExternalID).
		Str("user_id", req.UserID.String()).
		Str("amount", req.Amount.String()).
		Str("method", string(req.Method)).
		Msg("payout submitted, wallet debited")
	return txn, nil
}

// validate checks the request and resolves payout requisites.
func (s *WithdrawalServiceImpl) validate(ctx context.Context, req ports.WithdrawRequest) (ports.PayoutRequest, error) {
	if !validAmount(req.Amount) {
		return ports.PayoutRequest{}, apperror.ErrInvalidAmount()
	}
	if req.Amount.LessThan(s.minWithdrawal) {
		return ports.PayoutRequest{}, apperror.ErrBelowMinimumWithdrawal(s.minWithdrawal.String())
	}
	if !req.Method.IsValid() {
		return ports.PayoutRequest{}, apperror.ErrInvalidPayoutMethod()
	}

	out := ports.PayoutRequest{
		Amount:        req.Amount,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		MiddleName:    req.MiddleName,
		Phone:         req.Phone,
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
	}
	if !req.Method.NeedsBank() {
		if req.AccountNumber == "" {
			return ports.PayoutRequest{}, apperror.ErrInvalidPayoutMethod()
		}
		return out, nil
	}

	if req.Phone == "" {
		return ports.PayoutRequest{}, apperror.ErrInvalidPayoutMethod()
	}
	bank, err := s.bankRepo.GetByName(ctx, req.BankName)
	if err != nil {
		return ports.PayoutRequest{}, dbError("get bank", err)
	}
	if bank == nil {
		return ports.PayoutRequest{}, apperror.ErrUnknownBank(req.BankName)
	}
	out.BankID = bank.BankID
	return out, nil
}

// reserve creates the pending withdraw transaction after checking the
// balance under the wallet lock.
func (s *WithdrawalServiceImpl) reserve(ctx context.Context, req ports.WithdrawRequest) (*domain.Transaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, req.UserID)
	if err != nil {
		return nil, dbError("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if !wallet.CanDebit(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	now := s.now().UTC()
	txn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixWithdraw),
		WalletID:      wallet.ID,
		Amount:        req.Amount,
		Type:          domain.TransactionTypeWithdraw,
		Status:        domain.TransactionStatusPending,
		ReceiptStatus: domain.ReceiptStatusNotRequired,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, dbError("create withdraw transaction", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, dbError("commit withdraw reservation", err)
	}
	return txn, nil
}

// settleSubmitted debits the wallet for an accepted payout and stamps the
// transaction as submitted.
func (s *WithdrawalServiceImpl) settleSubmitted(ctx context.Context, txn *domain.Transaction) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	current, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, txn.ID)
	if err != nil {
		return dbError("lock withdraw transaction", err)
	}
	if current == nil || !current.IsPending() || current.SubmittedAt != nil {
		// The stale sweep or another writer settled it while the provider
		// was being called; the provider now holds a payout we never debited.
		fields := map[string]string{"external_id": txn.ExternalID, "amount": txn.Amount.String()}
		if current != nil {
			fields["status"] = string(current.Status)
		}
		s.log.Error().Str("external_id", txn.ExternalID).Msg("accepted payout has no pending transaction")
		s.alerter.Alert(ctx, "accepted payout without pending transaction", fields)
		return apperror.ErrInconsistentLedger(fmt.Errorf("withdraw %s is no longer pending", txn.ExternalID))
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, current.WalletID)
	if err != nil {
		return dbError("lock wallet", err)
	}
	if wallet == nil {
		return apperror.ErrNotFound("wallet")
	}
	if !wallet.CanDebit(current.Amount) {
		s.log.Error().
			Str("external_id", txn.ExternalID).
			Str("balance", wallet.Balance.String()).
			Str("amount", current.Amount.String()).
			Msg("balance no longer covers accepted payout")
		s.alerter.Alert(ctx, "accepted payout exceeds balance", map[string]string{
			"external_id": txn.ExternalID,
			"wallet_id":   wallet.ID.String(),
			"balance":     wallet.Balance.String(),
			"amount":      current.Amount.String(),
		})
		return apperror.ErrInsufficientFunds()
	}

	if err := s.walletRepo.UpdateBalances(ctx, dbTx, wallet.ID, wallet.Balance.Sub(current.Amount), wallet.Frozen); err != nil {
		return dbError("debit wallet", err)
	}
	submittedAt := s.now().UTC()
	if err := s.txRepo.MarkSubmitted(ctx, dbTx, current.ID, submittedAt); err != nil {
		return dbError("mark payout submitted", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return dbError("commit payout debit", err)
	}

	txn.SubmittedAt = &submittedAt
	return nil
}
