package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/procurely/outreach/internal/core"
	domainjob "github.com/procurely/outreach/internal/domain/job"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/mocks"
)

type stubQueueNotifier struct {
	subscribeCalls int
	stopCalled     bool
}

func (s *stubQueueNotifier) Subscribe() (func(), <-chan struct{}) {
	s.subscribeCalls++
	ch := make(chan struct{})
	unsub := func() {
		select {
		case <-ch:
		default:
		}
		close(ch)
	}
	return unsub, ch
}

func (s *stubQueueNotifier) Stop() {
	s.stopCalled = true
}

var _ domainjob.Notifier = (*stubQueueNotifier)(nil)

func newTestQueueService(t *testing.T, repo *mocks.MockJobRepository) (*QueueService, *stubQueueNotifier) {
	t.Helper()
	notifier := &stubQueueNotifier{}
	svc := MustNewQueueService(QueueServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
		Notifier:     notifier,
	})
	return svc, notifier
}

func validEnqueueRequest() *model.EnqueueRequest {
	return &model.EnqueueRequest{
		CampaignID:  "camp-1",
		RecipientID: "rec-1",
		Address:     "buyer@example.com",
		TemplateID:  "tmpl-1",
		Priority:    50,
	}
}

func TestNewQueueService(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	t.Run("requires repo", func(t *testing.T) {
		_, err := NewQueueService(QueueServiceOptions{DefaultLease: time.Second})
		assert.Error(t, err)
	})

	t.Run("requires positive default lease", func(t *testing.T) {
		_, err := NewQueueService(QueueServiceOptions{Repo: repo})
		assert.Error(t, err)
	})

	t.Run("valid options", func(t *testing.T) {
		svc, err := NewQueueService(QueueServiceOptions{
			Repo:         repo,
			DefaultLease: time.Second,
			Notifier:     &stubQueueNotifier{},
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestQueueService_Enqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	req := validEnqueueRequest()
	want := &model.DeliveryJob{ID: "job-1", CampaignID: req.CampaignID, Status: model.JobStatusPending}
	repo.EXPECT().Enqueue(gomock.Any(), req).Return(want, nil)

	job, err := svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, job)
}

func TestQueueService_Enqueue_InvalidRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	req := validEnqueueRequest()
	req.Address = ""

	_, err := svc.Enqueue(context.Background(), req)
	assert.ErrorContains(t, err, "address")
}

func TestQueueService_EnqueueBatch_ValidatesEveryRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	bad := validEnqueueRequest()
	bad.TemplateID = ""

	_, err := svc.EnqueueBatch(context.Background(), []*model.EnqueueRequest{
		validEnqueueRequest(),
		bad,
	})
	assert.ErrorContains(t, err, "request 1")
}

func TestQueueService_ReserveNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	want := &model.DeliveryJob{ID: "job-1", Status: model.JobStatusInFlight}
	repo.EXPECT().
		ReserveNext(gomock.Any(), core.ReserveOptions{LeaseSeconds: 10}).
		Return(want, nil)

	job, err := svc.ReserveNext(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, job)
}

func TestQueueService_ReserveNext_UsesDefaultLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	repo.EXPECT().
		ReserveNext(gomock.Any(), core.ReserveOptions{LeaseSeconds: 30}).
		Return(&model.DeliveryJob{ID: "job-1"}, nil)

	_, err := svc.ReserveNext(context.Background(), 0)
	require.NoError(t, err)
}

func TestQueueService_ReserveNext_NoJobsReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	repo.EXPECT().
		ReserveNext(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsReady)

	_, err := svc.ReserveNext(context.Background(), time.Second)
	assert.ErrorIs(t, err, model.ErrNoJobsReady)
}

func TestQueueService_Heartbeat_ClampsSubSecond(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	repo.EXPECT().Heartbeat(gomock.Any(), "job-1", 1).Return(true, nil)

	updated, err := svc.Heartbeat(context.Background(), "job-1", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestQueueService_Ack(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	outcome := model.AckSuccess()
	want := &model.DeliveryJob{ID: "job-1", Status: model.JobStatusSucceeded}
	repo.EXPECT().Ack(gomock.Any(), "job-1", outcome).Return(want, nil)

	job, err := svc.Ack(context.Background(), "job-1", outcome)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, job.Status)
}

func TestQueueService_Ack_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	repo.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		Return(nil, errors.New("boom"))

	_, err := svc.Ack(context.Background(), "job-1", model.AckSuccess())
	assert.ErrorContains(t, err, "ack job job-1")
}

func TestQueueService_PromoteDue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestQueueService(t, repo)

	repo.EXPECT().PromoteDue(gomock.Any(), 500).Return(42, nil)

	promoted, err := svc.PromoteDue(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, 42, promoted)
}

func TestQueueService_SubscribeAndStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, notifier := newTestQueueService(t, repo)

	unsub, ch := svc.Subscribe()
	assert.NotNil(t, ch)
	unsub()
	assert.Equal(t, 1, notifier.subscribeCalls)

	svc.StopListeners()
	assert.True(t, notifier.stopCalled)
}
