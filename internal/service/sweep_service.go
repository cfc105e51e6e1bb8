package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"escrow-ledger/internal/core/domain"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SweepConfig bounds the periodic jobs.
type SweepConfig struct {
	BatchSize   int
	Concurrency int
	PendingTTL  time.Duration
}

// SweepServiceImpl implements ports.SweepService.
type SweepServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	frozenRepo ports.FrozenFundsRepository
	transactor ports.DBTransactor
	payout     ports.PayoutGateway
	alerter    ports.Alerter
	audit      ports.AuditService
	cfg        SweepConfig
	now        func() time.Time
	log        zerolog.Logger
}

var _ ports.SweepService = (*SweepServiceImpl)(nil)

// NewSweepService creates a new SweepServiceImpl.
func NewSweepService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	frozenRepo ports.FrozenFundsRepository,
	transactor ports.DBTransactor,
	payout ports.PayoutGateway,
	alerter ports.Alerter,
	audit ports.AuditService,
	cfg SweepConfig,
	log zerolog.Logger,
) *SweepServiceImpl {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = domain.DefaultPendingTTL
	}
	return &SweepServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		frozenRepo: frozenRepo,
		transactor: transactor,
		payout:     payout,
		alerter:    alerter,
		audit:      audit,
		cfg:        cfg,
		now:        time.Now,
		log:        log.With().Str("component", "sweep").Logger(),
	}
}

type rowResult int

const (
	rowApplied rowResult = iota
	rowSkipped
	rowFailed
)

// sweepCounter tallies per-row results from concurrent workers.
type sweepCounter struct {
	applied, skipped, failed atomic.Int64
}

func (c *sweepCounter) add(r rowResult) {
	switch r {
	case rowApplied:
		c.applied.Add(1)
	case rowSkipped:
		c.skipped.Add(1)
	default:
		c.failed.Add(1)
	}
}

// run fans rows out to a bounded worker group and builds the report.
func run[T any](ctx context.Context, s *SweepServiceImpl, job string, rows []T, handle func(context.Context, T) rowResult) *ports.SweepReport {
	started := time.Now()
	var counter sweepCounter

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, row := range rows {
		g.Go(func() error {
			counter.add(handle(gctx, row))
			return nil
		})
	}
	_ = g.Wait()

	report := &ports.SweepReport{
		Job:      job,
		Scanned:  len(rows),
		Applied:  int(counter.applied.Load()),
		Skipped:  int(counter.skipped.Load()),
		Failed:   int(counter.failed.Load()),
		Duration: time.Since(started),
	}
	metrics.ObserveSweep(job, started, report.Applied, report.Skipped, report.Failed, nil)
	s.log.Info().
		Str("job", job).
		Int("scanned", report.Scanned).
		Int("applied", report.Applied).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sweep finished")
	return report
}

// ReleaseMaturedEscrow moves matured escrow from frozen to spendable balance.
func (s *SweepServiceImpl) ReleaseMaturedEscrow(ctx context.Context) (*ports.SweepReport, error) {
	started := time.Now()
	rows, err := s.frozenRepo.ListMatured(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		metrics.ObserveSweep(ports.JobReleaseEscrow, started, 0, 0, 0, err)
		return nil, dbError("list matured escrow", err)
	}
	return run(ctx, s, ports.JobReleaseEscrow, rows, s.releaseOne), nil
}

func (s *SweepServiceImpl) releaseOne(ctx context.Context, row domain.FrozenFunds) rowResult {
	log := s.log.With().Str("frozen_id", row.ID.String()).Str("wallet_id", row.WalletID.String()).Logger()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("release: begin failed")
		return rowFailed
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, row.WalletID)
	if err != nil || wallet == nil {
		log.Warn().Err(err).Msg("release: wallet lock failed")
		return rowFailed
	}
	hold, err := s.frozenRepo.GetByIDForUpdate(ctx, dbTx, row.ID)
	if err != nil || hold == nil {
		log.Warn().Err(err).Msg("release: escrow lock failed")
		return rowFailed
	}
	if !hold.IsMatured(s.now().UTC()) {
		// Refunded or released by someone else since the listing.
		return rowSkipped
	}

	if wallet.Frozen.LessThan(hold.Amount) {
		log.Error().
			Str("frozen", wallet.Frozen.String()).
			Str("amount", hold.Amount.String()).
			Msg("release: wallet frozen balance below escrow amount")
		s.alerter.Alert(ctx, "escrow release found inconsistent wallet", map[string]string{
			"frozen_id": hold.ID.String(),
			"wallet_id": wallet.ID.String(),
			"frozen":    wallet.Frozen.String(),
			"amount":    hold.Amount.String(),
		})
		return rowFailed
	}

	wallet.ReleaseFrozen(hold.Amount)
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, wallet.ID, wallet.Balance, wallet.Frozen); err != nil {
		log.Warn().Err(err).Msg("release: wallet update failed")
		return rowFailed
	}
	if err := s.frozenRepo.UpdateStatus(ctx, dbTx, hold.ID, domain.FrozenStatusReleased); err != nil {
		log.Warn().Err(err).Msg("release: status update failed")
		return rowFailed
	}
	if err := dbTx.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("release: commit failed")
		return rowFailed
	}

	log.Debug().Str("amount", hold.Amount.String()).Msg("escrow released")
	return rowApplied
}

// ExpireStalePending cancels pending transactions the provider never
// settled. Submitted payouts are left to the payout poll.
func (s *SweepServiceImpl) ExpireStalePending(ctx context.Context) (*ports.SweepReport, error) {
	started := time.Now()
	rows, err := s.txRepo.ListStalePending(ctx, s.now().UTC().Add(-s.cfg.PendingTTL), s.cfg.BatchSize)
	if err != nil {
		metrics.ObserveSweep(ports.JobExpirePending, started, 0, 0, 0, err)
		return nil, dbError("list stale pending", err)
	}
	return run(ctx, s, ports.JobExpirePending, rows, s.expireOne), nil
}

func (s *SweepServiceImpl) expireOne(ctx context.Context, row domain.Transaction) rowResult {
	log := s.log.With().Str("external_id", row.ExternalID).Logger()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("expire: begin failed")
		return rowFailed
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, row.ID)
	if err != nil || txn == nil {
		log.Warn().Err(err).Msg("expire: transaction lock failed")
		return rowFailed
	}
	if !txn.IsExpired(s.now().UTC(), s.cfg.PendingTTL) || txn.SubmittedAt != nil {
		return rowSkipped
	}

	applied, err := s.txRepo.TransitionStatus(ctx, dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusCanceled)
	if err != nil {
		log.Warn().Err(err).Msg("expire: transition failed")
		return rowFailed
	}
	if !applied {
		return rowSkipped
	}
	if err := dbTx.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("expire: commit failed")
		return rowFailed
	}

	log.Info().Str("type", string(txn.Type)).Msg("stale pending transaction canceled")
	return rowApplied
}

// PollPayoutStatuses settles submitted payouts. Anything other than a paid
// status, including a failed status call, restores the debited amount.
func (s *SweepServiceImpl) PollPayoutStatuses(ctx context.Context) (*ports.SweepReport, error) {
	started := time.Now()
	rows, err := s.txRepo.ListSubmittedPayouts(ctx, s.cfg.BatchSize)
	if err != nil {
		metrics.ObserveSweep(ports.JobPollPayouts, started, 0, 0, 0, err)
		return nil, dbError("list submitted payouts", err)
	}
	return run(ctx, s, ports.JobPollPayouts, rows, s.pollOne), nil
}

func (s *SweepServiceImpl) pollOne(ctx context.Context, row domain.Transaction) rowResult {
	log := s.log.With().Str("external_id", row.ExternalID).Logger()

	status, statusErr := s.payout.Status(ctx, row.ExternalID)
	paid := statusErr == nil && domain.IsPayoutPaid(status)
	if statusErr != nil {
		log.Warn().Err(statusErr).Msg("payout status call failed, restoring funds")
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("payouts: begin failed")
		return rowFailed
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, row.ID)
	if err != nil || txn == nil {
		log.Warn().Err(err).Msg("payouts: transaction lock failed")
		return rowFailed
	}
	if !txn.IsPending() || !txn.IsPayoutSubmitted() {
		return rowSkipped
	}

	if paid {
		applied, err := s.txRepo.TransitionStatus(ctx, dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusPaid)
		if err != nil || !applied {
			log.Warn().Err(err).Msg("payouts: mark paid failed")
			return rowFailed
		}
		if err := dbTx.Commit(ctx); err != nil {
			log.Warn().Err(err).Msg("payouts: commit failed")
			return rowFailed
		}
		log.Info().Msg("payout settled")
		return rowApplied
	}

	if err := s.restitute(ctx, dbTx, txn); err != nil {
		log.Warn().Err(err).Msg("payouts: restitution failed")
		return rowFailed
	}

	reason := status
	if statusErr != nil {
		reason = statusErr.Error()
	}
	fields := map[string]string{
		"transaction_id": txn.ID.String(),
		"external_id":    txn.ExternalID,
		"amount":         txn.Amount.String(),
		"provider":       reason,
	}
	log.Warn().Str("provider_status", reason).Str("amount", txn.Amount.String()).Msg("payout failed, funds restored")
	s.alerter.Alert(ctx, "payout failed, funds restored", fields)
	s.audit.Log(ctx, newAuditEntry(domain.AuditActionPayoutRestituted, "transaction", txn.ID.String(), nil, fields))
	return rowApplied
}

// restitute marks the payout failed and credits the amount back.
func (s *SweepServiceImpl) restitute(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) error {
	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, txn.WalletID)
	if err != nil {
		return fmt.Errorf("lock wallet: %w", err)
	}
	if wallet == nil {
		return fmt.Errorf("wallet %s not found", txn.WalletID)
	}
	applied, err := s.txRepo.TransitionStatus(ctx, dbTx, txn.ID, domain.TransactionStatusPending, domain.TransactionStatusFailed)
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", err)
	}
	if !applied {
		return fmt.Errorf("payout %s left pending state under lock", txn.ExternalID)
	}
	if err := s.walletRepo.UpdateBalances(ctx, dbTx, wallet.ID, wallet.Balance.Add(txn.Amount), wallet.Frozen); err != nil {
		return fmt.Errorf("credit back payout: %w", err)
	}
	return dbTx.Commit(ctx)
}
