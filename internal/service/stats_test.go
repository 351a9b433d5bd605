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

type statsFixture struct {
	events *mocks.MockMetricRepository
	cache  *mocks.MockStatsCache
	svc    *StatsService
}

func newStatsFixture(t *testing.T) *statsFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &statsFixture{
		events: mocks.NewMockMetricRepository(ctrl),
		cache:  mocks.NewMockStatsCache(ctrl),
	}
	f.svc = MustNewStatsService(StatsServiceOptions{
		Events: f.events,
		Cache:  f.cache,
	})
	return f
}

func sentEvent() *model.MetricEvent {
	return &model.MetricEvent{
		CampaignID:  "camp-1",
		JobID:       "job-1",
		RecipientID: "rec-1",
		Attempt:     0,
		EventType:   model.EventSent,
		OccurredAt:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatsService_Record(t *testing.T) {
	f := newStatsFixture(t)
	event := sentEvent()

	f.events.EXPECT().Append(gomock.Any(), event).Return(true, nil)
	f.cache.EXPECT().Incr(gomock.Any(), "camp-1", model.EventSent, int64(1)).Return(nil)

	require.NoError(t, f.svc.Record(context.Background(), event))
}

func TestStatsService_Record_DuplicateSkipsCounter(t *testing.T) {
	f := newStatsFixture(t)
	event := sentEvent()

	// The store absorbed the duplicate, so the counter must not move.
	f.events.EXPECT().Append(gomock.Any(), event).Return(false, nil)

	require.NoError(t, f.svc.Record(context.Background(), event))
}

func TestStatsService_Record_CacheFailureSwallowed(t *testing.T) {
	f := newStatsFixture(t)
	event := sentEvent()

	f.events.EXPECT().Append(gomock.Any(), event).Return(true, nil)
	f.cache.EXPECT().
		Incr(gomock.Any(), "camp-1", model.EventSent, int64(1)).
		Return(errors.New("connection refused"))

	require.NoError(t, f.svc.Record(context.Background(), event))
}

func TestStatsService_Record_StoreFailureSurfaces(t *testing.T) {
	f := newStatsFixture(t)
	event := sentEvent()

	f.events.EXPECT().Append(gomock.Any(), event).Return(false, errors.New("deadlock detected"))

	err := f.svc.Record(context.Background(), event)
	assert.ErrorContains(t, err, "append metric event")
}

func TestStatsService_Record_InvalidEvent(t *testing.T) {
	f := newStatsFixture(t)

	event := sentEvent()
	event.EventType = "teleported"

	err := f.svc.Record(context.Background(), event)
	assert.ErrorContains(t, err, "not valid")
}

func TestStatsService_GetStats_CacheHit(t *testing.T) {
	f := newStatsFixture(t)
	want := &model.CampaignStats{CampaignID: "camp-1", Sent: 10, Delivered: 9}

	f.cache.EXPECT().Get(gomock.Any(), "camp-1").Return(want, true, nil)

	stats, err := f.svc.GetStats(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, want, stats)
}

func TestStatsService_GetStats_CacheMissFallsBack(t *testing.T) {
	f := newStatsFixture(t)
	want := &model.CampaignStats{CampaignID: "camp-1", Sent: 4, Delivered: 3, Opened: 2}

	f.cache.EXPECT().Get(gomock.Any(), "camp-1").Return(nil, false, nil)
	f.events.EXPECT().CountsByCampaign(gomock.Any(), "camp-1").Return(want, nil)
	f.cache.EXPECT().Replace(gomock.Any(), "camp-1", want).Return(nil)

	stats, err := f.svc.GetStats(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, want, stats)
}

func TestStatsService_GetStats_CacheErrorFallsBack(t *testing.T) {
	f := newStatsFixture(t)
	want := &model.CampaignStats{CampaignID: "camp-1", Sent: 1}

	f.cache.EXPECT().Get(gomock.Any(), "camp-1").Return(nil, false, errors.New("timeout"))
	f.events.EXPECT().CountsByCampaign(gomock.Any(), "camp-1").Return(want, nil)
	f.cache.EXPECT().Replace(gomock.Any(), "camp-1", want).Return(nil)

	stats, err := f.svc.GetStats(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, want, stats)
}

func TestStatsService_Rebuild(t *testing.T) {
	f := newStatsFixture(t)

	f.events.EXPECT().
		Replay(gomock.Any(), "camp-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, fn func(*model.MetricEvent) error) error {
			for _, et := range []model.EventType{
				model.EventSent, model.EventSent, model.EventDelivered, model.EventClaimed,
			} {
				if err := fn(&model.MetricEvent{EventType: et}); err != nil {
					return err
				}
			}
			return nil
		})
	f.cache.EXPECT().
		Replace(gomock.Any(), "camp-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, stats *model.CampaignStats) error {
			assert.Equal(t, int64(2), stats.Sent)
			assert.Equal(t, int64(1), stats.Delivered)
			assert.Equal(t, int64(1), stats.Claimed)
			return nil
		})

	stats, err := f.svc.Rebuild(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sent)
	assert.InDelta(t, 0.5, stats.DeliveryRate(), 1e-9)
}

func TestStatsService_WorksWithoutCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockMetricRepository(ctrl)
	svc := MustNewStatsService(StatsServiceOptions{Events: events})

	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)
	require.NoError(t, svc.Record(context.Background(), sentEvent()))

	want := &model.CampaignStats{CampaignID: "camp-1", Sent: 1}
	events.EXPECT().CountsByCampaign(gomock.Any(), "camp-1").Return(want, nil)
	stats, err := svc.GetStats(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, want, stats)
}
