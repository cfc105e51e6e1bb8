package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-ledger/config"
	"escrow-ledger/internal/core/ports"
	"escrow-ledger/internal/core/ports/mocks"
	"escrow-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig) (*Scheduler, *mocks.MockSweepService, *mocks.MockJobLock) {
	ctrl := gomock.NewController(t)
	sweeps := mocks.NewMockSweepService(ctrl)
	lock := mocks.NewMockJobLock(ctrl)
	return New(sweeps, lock, cfg, zerolog.Nop()), sweeps, lock
}

func TestScheduler_Run_TakesAndReleasesLock(t *testing.T) {
	s, sweeps, lock := newTestScheduler(t, config.SchedulerConfig{LockTTL: time.Minute})
	ctx := context.Background()
	want := &ports.SweepReport{Job: ports.JobReleaseEscrow, Applied: 2}

	gomock.InOrder(
		lock.EXPECT().Acquire(ctx, ports.JobReleaseEscrow, time.Minute).Return(true, nil),
		sweeps.EXPECT().ReleaseMaturedEscrow(ctx).Return(want, nil),
		lock.EXPECT().Release(gomock.Any(), ports.JobReleaseEscrow).Return(nil),
	)

	got, err := s.Run(ctx, ports.JobReleaseEscrow)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScheduler_Run_LockHeldElsewhere(t *testing.T) {
	s, _, lock := newTestScheduler(t, config.SchedulerConfig{})
	lock.EXPECT().Acquire(gomock.Any(), ports.JobPollPayouts, 30*time.Minute).Return(false, nil)

	_, err := s.Run(context.Background(), ports.JobPollPayouts)
	assert.True(t, apperror.HasCode(err, "SYS_003"), "got %v", err)
}

func TestScheduler_Run_LockError(t *testing.T) {
	s, _, lock := newTestScheduler(t, config.SchedulerConfig{})
	lock.EXPECT().Acquire(gomock.Any(), ports.JobExpirePending, gomock.Any()).Return(false, errors.New("redis down"))

	_, err := s.Run(context.Background(), ports.JobExpirePending)
	assert.True(t, apperror.HasCode(err, "SYS_001"), "got %v", err)
}

func TestScheduler_Run_UnknownJob(t *testing.T) {
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{})

	_, err := s.Run(context.Background(), "compact")
	assert.True(t, apperror.HasCode(err, "PAY_002"), "got %v", err)
}

func TestScheduler_Run_ReleasesLockOnSweepError(t *testing.T) {
	s, sweeps, lock := newTestScheduler(t, config.SchedulerConfig{})
	lock.EXPECT().Acquire(gomock.Any(), ports.JobExpirePending, gomock.Any()).Return(true, nil)
	sweeps.EXPECT().ExpireStalePending(gomock.Any()).Return(nil, errors.New("db down"))
	lock.EXPECT().Release(gomock.Any(), ports.JobExpirePending).Return(nil)

	_, err := s.Run(context.Background(), ports.JobExpirePending)
	assert.Error(t, err)
}

func TestScheduler_Start_PollsPayoutsOnStart(t *testing.T) {
	s, sweeps, lock := newTestScheduler(t, config.SchedulerConfig{
		ReleaseSpec: "@hourly",
		ExpireSpec:  "@daily",
		PayoutSpec:  "@daily",
		PollOnStart: true,
	})

	done := make(chan struct{})
	lock.EXPECT().Acquire(gomock.Any(), ports.JobPollPayouts, gomock.Any()).Return(true, nil)
	sweeps.EXPECT().PollPayoutStatuses(gomock.Any()).Return(&ports.SweepReport{Job: ports.JobPollPayouts}, nil)
	lock.EXPECT().Release(gomock.Any(), ports.JobPollPayouts).DoAndReturn(func(context.Context, string) error {
		close(done)
		return nil
	})

	require.NoError(t, s.Start())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("payout poll did not run on start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestScheduler_Start_InvalidSpec(t *testing.T) {
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{ReleaseSpec: "every tuesday"})
	assert.Error(t, s.Start())
}
