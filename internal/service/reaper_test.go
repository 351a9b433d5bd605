package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/mocks"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:       time.Minute,
		PendingMaxAge:  time.Hour,
		TerminalMaxAge: 24 * time.Hour,
		BudgetMaxAge:   48 * time.Hour,
		BatchSize:      100,
	}
}

func TestNewReaperService_RequiresRepo(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
	assert.Error(t, err)
}

func TestReaperService_RunCleanup(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	budgets := mocks.NewMockBudgetRepository(ctrl)
	svc := MustNewReaperService(ReaperServiceOptions{
		Repo:    repo,
		Budgets: budgets,
		Config:  testReaperConfig(),
	})

	// Each batched step loops until a batch comes back empty.
	gomock.InOrder(
		repo.EXPECT().RequeueExpiredLeases(gomock.Any(), 100).Return(int64(100), nil),
		repo.EXPECT().RequeueExpiredLeases(gomock.Any(), 100).Return(int64(3), nil),
		repo.EXPECT().RequeueExpiredLeases(gomock.Any(), 100).Return(int64(0), nil),
	)
	gomock.InOrder(
		repo.EXPECT().ExpireStalePendingJobs(gomock.Any(), core.ReapStaleJobsParams{
			MaxAge:    time.Hour,
			BatchSize: 100,
		}).Return(int64(5), nil),
		repo.EXPECT().ExpireStalePendingJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil),
	)
	repo.EXPECT().DeleteOldTerminalJobs(gomock.Any(), core.ReapStaleJobsParams{
		MaxAge:    24 * time.Hour,
		BatchSize: 100,
	}).Return(int64(0), nil)
	budgets.EXPECT().DeleteExpired(gomock.Any(), gomock.Any()).Return(int64(2), nil)

	require.NoError(t, svc.runCleanup(context.Background()))
}

func TestReaperService_RunCleanup_ContinuesPastStepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	svc := MustNewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
	})

	repo.EXPECT().RequeueExpiredLeases(gomock.Any(), 100).Return(int64(0), errors.New("lock timeout"))
	repo.EXPECT().ExpireStalePendingJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil)
	repo.EXPECT().DeleteOldTerminalJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	err := svc.runCleanup(context.Background())
	assert.ErrorContains(t, err, "requeue expired leases")
}

func TestReaperService_RunCleanup_NoBudgetRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	svc := MustNewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
	})

	repo.EXPECT().RequeueExpiredLeases(gomock.Any(), 100).Return(int64(0), nil)
	repo.EXPECT().ExpireStalePendingJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil)
	repo.EXPECT().DeleteOldTerminalJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil)

	require.NoError(t, svc.runCleanup(context.Background()))
}

func TestReaperService_Run_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	svc := MustNewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: testReaperConfig(),
	})

	repo.EXPECT().RequeueExpiredLeases(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()
	repo.EXPECT().ExpireStalePendingJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()
	repo.EXPECT().DeleteOldTerminalJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
