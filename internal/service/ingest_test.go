package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/mocks"
)

type stubActionRecorder struct {
	recorded map[string]string
	err      error
}

func (a *stubActionRecorder) RecordAction(_ context.Context, recipientID, action string) error {
	if a.err != nil {
		return a.err
	}
	if a.recorded == nil {
		a.recorded = make(map[string]string)
	}
	a.recorded[recipientID] = action
	return nil
}

type ingestFixture struct {
	events       *mocks.MockMetricRepository
	suppressions *mocks.MockSuppressionRepository
	jobs         *mocks.MockJobRepository
	actions      *stubActionRecorder
	svc          *IngestService
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &ingestFixture{
		events:       mocks.NewMockMetricRepository(ctrl),
		suppressions: mocks.NewMockSuppressionRepository(ctrl),
		jobs:         mocks.NewMockJobRepository(ctrl),
		actions:      &stubActionRecorder{},
	}
	f.svc = MustNewIngestService(IngestServiceOptions{
		Stats:        MustNewStatsService(StatsServiceOptions{Events: f.events}),
		Suppressions: f.suppressions,
		Actions:      f.actions,
		Jobs:         f.jobs,
	})
	return f
}

func webhookEvent(eventType model.EventType) *model.MetricEvent {
	return &model.MetricEvent{
		CampaignID:  "camp-1",
		JobID:       "job-1",
		RecipientID: "rec-1",
		Attempt:     1,
		EventType:   eventType,
		OccurredAt:  time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC),
	}
}

func TestIngest_DeliveredHasNoSideEffects(t *testing.T) {
	f := newIngestFixture(t)

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventDelivered))
	require.NoError(t, err)
	assert.Empty(t, f.actions.recorded)
}

func TestIngest_BounceSuppressesWithJobAddress(t *testing.T) {
	f := newIngestFixture(t)

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)
	f.jobs.EXPECT().
		GetByID(gomock.Any(), "job-1").
		Return(&model.DeliveryJob{ID: "job-1", Address: "vendor@example.com"}, nil)
	f.suppressions.EXPECT().
		Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sup *model.Suppression) error {
			assert.Equal(t, "rec-1", sup.RecipientID)
			assert.Equal(t, "vendor@example.com", sup.Address)
			assert.Equal(t, "hard_bounce", sup.Reason)
			return nil
		})

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventBounced))
	require.NoError(t, err)
}

func TestIngest_UnsubscribeSuppressesAndRecordsAction(t *testing.T) {
	f := newIngestFixture(t)

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)
	f.jobs.EXPECT().
		GetByID(gomock.Any(), "job-1").
		Return(&model.DeliveryJob{ID: "job-1", Address: "vendor@example.com"}, nil)
	f.suppressions.EXPECT().
		Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sup *model.Suppression) error {
			assert.Equal(t, "unsubscribed", sup.Reason)
			return nil
		})

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventUnsubscribed))
	require.NoError(t, err)
	assert.Equal(t, "unsubscribed", f.actions.recorded["rec-1"])
}

func TestIngest_ClaimRecordsStopConditionAction(t *testing.T) {
	f := newIngestFixture(t)

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventClaimed))
	require.NoError(t, err)
	assert.Equal(t, "listing_claimed", f.actions.recorded["rec-1"])
}

func TestIngest_StoreFailureSurfaces(t *testing.T) {
	f := newIngestFixture(t)

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(false, errors.New("db gone"))

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventDelivered))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record webhook event")
}

func TestIngest_SideEffectFailureDoesNotFailIngest(t *testing.T) {
	f := newIngestFixture(t)
	f.actions.err = errors.New("directory down")

	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)

	err := f.svc.Ingest(context.Background(), webhookEvent(model.EventClaimed))
	require.NoError(t, err)
}
