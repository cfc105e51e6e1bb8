package service

import (
	"context"
	"sync"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// receiptRetryIntervals are the waits between fiscal registration attempts.
var receiptRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// ReceiptServiceImpl implements ports.ReceiptNotifier. Receipts are
// registered in the background; the ledger never waits for them.
type ReceiptServiceImpl struct {
	fiscal  ports.FiscalClient
	txRepo  ports.TransactionRepository
	alerter ports.Alerter
	audit   ports.AuditService
	retry   []time.Duration
	log     zerolog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

var _ ports.ReceiptNotifier = (*ReceiptServiceImpl)(nil)

// NewReceiptService creates a receipt notifier. A nil fiscal client disables
// receipt registration.
func NewReceiptService(
	fiscal ports.FiscalClient,
	txRepo ports.TransactionRepository,
	alerter ports.Alerter,
	audit ports.AuditService,
	log zerolog.Logger,
) *ReceiptServiceImpl {
	return &ReceiptServiceImpl{
		fiscal:  fiscal,
		txRepo:  txRepo,
		alerter: alerter,
		audit:   audit,
		retry:   receiptRetryIntervals,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// NotifySale registers receipt for txn asynchronously with retries.
func (s *ReceiptServiceImpl) NotifySale(ctx context.Context, txn *domain.Transaction, receipt ports.FiscalReceipt) {
	if s.fiscal == nil {
		s.log.Debug().Str("external_id", txn.ExternalID).Msg("receipt: fiscal client disabled, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetries(context.WithoutCancel(ctx), txn, receipt)
	}()
}

// Close stops pending retries and waits for in-flight deliveries.
func (s *ReceiptServiceImpl) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Wait blocks until in-flight deliveries finish.
func (s *ReceiptServiceImpl) Wait() {
	s.wg.Wait()
}

func (s *ReceiptServiceImpl) deliverWithRetries(ctx context.Context, txn *domain.Transaction, receipt ports.FiscalReceipt) {
	var lastErr error
	for attempt := 0; attempt <= len(s.retry); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retry[attempt-1]):
			case <-s.stop:
				s.log.Warn().Str("external_id", txn.ExternalID).Int("attempt", attempt).Msg("receipt: shutting down, delivery abandoned")
				return
			}
		}

		lastErr = s.fiscal.Issue(ctx, receipt)
		if lastErr == nil {
			s.log.Info().Str("external_id", txn.ExternalID).Int("attempt", attempt+1).Msg("receipt: registered")
			return
		}
		s.log.Warn().Err(lastErr).Str("external_id", txn.ExternalID).Int("attempt", attempt+1).Msg("receipt: registration failed")
	}

	s.log.Error().Err(lastErr).Str("external_id", txn.ExternalID).Msg("receipt: all retry attempts exhausted")

	if err := s.txRepo.UpdateReceiptStatus(ctx, txn.ID, domain.ReceiptStatusFailed); err != nil {
		s.log.Warn().Err(err).Str("external_id", txn.ExternalID).Msg("receipt: failed to mark receipt failed")
	}
	fields := map[string]string{
		"transaction_id": txn.ID.String(),
		"external_id":    txn.ExternalID,
		"kind":           string(receipt.Kind),
		"amount":         receipt.Amount.String(),
		"error":          lastErr.Error(),
	}
	s.alerter.Alert(ctx, "fiscal receipt failed", fields)
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionReceiptFailed, "transaction", txn.ID.String(), nil, fields))
}
