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
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DepositServiceImpl implements ports.DepositService.
type DepositServiceImpl struct {
	walletRepo      ports.WalletRepository
	txRepo          ports.TransactionRepository
	transactor      ports.DBTransactor
	card            ports.CardGateway
	notificationURL string
	now             func() time.Time
	log             zerolog.Logger
}

var _ ports.DepositService = (*DepositServiceImpl)(nil)

// NewDepositService creates a new DepositServiceImpl. notificationURL is the
// public address of the card webhook.
func NewDepositService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	card ports.CardGateway,
	notificationURL string,
	log zerolog.Logger,
) *DepositServiceImpl {
	return &DepositServiceImpl{
		walletRepo:      walletRepo,
		txRepo:          txRepo,
		transactor:      transactor,
		card:            card,
		notificationURL: notificationURL,
		now:             time.Now,
		log:             log,
	}
}

// Deposit records a pending deposit and asks the card provider for a payment
// page. The wallet is credited later by the card notification.
func (s *DepositServiceImpl) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*ports.DepositResult, error) {
	if !validAmount(amount) {
		return nil, apperror.ErrInvalidAmount()
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, dbError("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	now := s.now().UTC()
	txn := &domain.Transaction{
		ID:            uuid.New(),
		ExternalID:    newExternalID(prefixDeposit),
		WalletID:      wallet.ID,
		Amount:        amount,
		Type:          domain.TransactionTypeDeposit,
		Status:        domain.TransactionStatusPending,
		ReceiptStatus: domain.ReceiptStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, dbError("create deposit transaction", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, dbError("commit deposit", err)
	}

	init, err := s.card.Init(ctx, ports.CardInitRequest{
		AmountMinor:     txn.AmountMinor(),
		OrderID:         txn.ExternalID,
		Description:     fmt.Sprintf("Wallet top-up %s", amount.StringFixed(2)),
		NotificationURL: s.notificationURL,
	})
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("deposit", "error").Inc()
		s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("card init failed, marking deposit failed")
		s.markFailed(ctx, txn)
		return nil, apperror.ErrCardGateway(err)
	}

	if init.PaymentID != "" {
		if err := s.setPaymentID(ctx, txn.ID, init.PaymentID); err != nil {
			s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("failed to store provider payment id")
		} else {
			txn.PaymentID = &init.PaymentID
		}
	}

	metrics.LedgerOperations.WithLabelValues("deposit", "ok").Inc()
	s.log.Info().
		Str("external_id", txn.ExternalID).
		Str("user_id", userID.String()).
		Str("amount", amount.String()).
		Msg("deposit initiated")

	return &ports.DepositResult{Transaction: txn, PaymentURL: init.PaymentURL}, nil
}

func (s *DepositServiceImpl) markFailed(ctx context.Context, txn *domain.Transaction) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("failed to begin deposit failure scope")
		return
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	applied := false
	if _, err = s.txRepo.GetByIDForUpdate(ctx, dbTx, txn.ID); err == nil {
		applied, err = s.txRepo.TransitionStatus(ctx, dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusFailed)
	}
	if err == nil && applied {
		err = dbTx.Commit(ctx)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("failed to mark deposit failed")
		return
	}
	if applied {
		txn.Status = domain.TransactionStatusFailed
	}
}

func (s *DepositServiceImpl) setPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.SetPaymentID(ctx, dbTx, id, paymentID); err != nil {
		return err
	}
	return dbTx.Commit(ctx)
}
