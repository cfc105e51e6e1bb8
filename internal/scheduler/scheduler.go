// Package scheduler runs the ledger sweeps on cron schedules, one process
// at a time per job.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/pkg/apperror"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler implements ports.JobRunner and drives the sweeps from cron.
type Scheduler struct {
	sweeps ports.SweepService
	lock   ports.JobLock
	cfg    config.SchedulerConfig
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

var _ ports.JobRunner = (*Scheduler)(nil)

// New creates a Scheduler. A nil lock runs jobs without cross-process
// exclusion.
func New(sweeps ports.SweepService, lock ports.JobLock, cfg config.SchedulerConfig, log zerolog.Logger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cron.PrintfLogger(&log)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sweeps: sweeps,
		lock:   lock,
		cfg:    cfg,
		cron:   cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Run executes one sweep job under the job lock.
func (s *Scheduler) Run(ctx context.Context, job string) (*ports.SweepReport, error) {
	sweep, err := s.sweep(job)
	if err != nil {
		return nil, err
	}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, job, s.cfg.LockTTL)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("acquire job lock %s: %w", job, err))
		}
		if !acquired {
			return nil, apperror.ErrJobRunning(job)
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), job); err != nil {
				s.log.Warn().Err(err).Str("job", job).Msg("failed to release job lock")
			}
		}()
	}

	return sweep(ctx)
}

func (s *Scheduler) sweep(job string) (func(context.Context) (*ports.SweepReport, error), error) {
	switch job {
	case ports.JobReleaseEscrow:
		return s.sweeps.ReleaseMaturedEscrow, nil
	case ports.JobExpirePending:
		return s.sweeps.ExpireStalePending, nil
	case ports.JobPollPayouts:
		return s.sweeps.PollPayoutStatuses, nil
	}
	return nil, apperror.Validation(fmt.Sprintf("unknown job %q", job))
}

// Start registers the configured schedules and starts the cron loop.
func (s *Scheduler) Start() error {
	specs := []struct{ job, spec string }{
		{ports.JobReleaseEscrow, s.cfg.ReleaseSpec},
		{ports.JobExpirePending, s.cfg.ExpireSpec},
		{ports.JobPollPayouts, s.cfg.PayoutSpec},
	}
	for _, e := range specs {
		if e.spec == "" {
			continue
		}
		job := e.job
		if _, err := s.cron.AddFunc(e.spec, func() { s.runLogged(job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job, e.spec, err)
		}
		s.log.Info().Str("job", job).Str("spec", e.spec).Msg("sweep scheduled")
	}

	s.cron.Start()
	if s.cfg.PollOnStart {
		go s.runLogged(ports.JobPollPayouts)
	}
	return nil
}

// Stop halts the schedule and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runLogged(job string) {
	report, err := s.Run(s.ctx, job)
	if err != nil {
		if apperror.HasCode(err, "SYS_003") {
			s.log.Debug().Str("job", job).Msg("job held by another instance, skipping")
			return
		}
		s.log.Error().Err(err).Str("job", job).Msg("sweep failed")
		return
	}
	s.log.Debug().Str("job", job).Int("applied", report.Applied).Msg("scheduled sweep done")
}
