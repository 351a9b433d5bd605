package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/mocks"
)

type campaignFixture struct {
	campaigns    *mocks.MockCampaignRepository
	jobs         *mocks.MockJobRepository
	audience     *mocks.MockAudienceResolver
	suppressions *mocks.MockSuppressionRepository
	renderer     *mocks.MockTemplateRenderer
	svc          *CampaignService
}

func newCampaignFixture(t *testing.T, ceiling int) *campaignFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &campaignFixture{
		campaigns:    mocks.NewMockCampaignRepository(ctrl),
		jobs:         mocks.NewMockJobRepository(ctrl),
		audience:     mocks.NewMockAudienceResolver(ctrl),
		suppressions: mocks.NewMockSuppressionRepository(ctrl),
		renderer:     mocks.NewMockTemplateRenderer(ctrl),
	}
	f.svc = MustNewCampaignService(CampaignServiceOptions{
		Campaigns:    f.campaigns,
		Jobs:         f.jobs,
		Audience:     f.audience,
		Suppressions: f.suppressions,
		Renderer:     f.renderer,
		DailyCeiling: ceiling,
		TimeProvider: data.NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
	return f
}

func validLaunchRequest() *model.LaunchRequest {
	return &model.LaunchRequest{
		CampaignID: "camp-1",
		Name:       "Unclaimed listings March",
		SegmentKey: string(model.SegmentUnclaimedListings),
		TemplateID: "tmpl-claim",
		Tier:       model.TierStandard,
	}
}

func recipients(n int) []*model.Recipient {
	out := make([]*model.Recipient, n)
	for i := 0; i < n; i++ {
		out[i] = &model.Recipient{
			ID:      "rec-" + string(rune('a'+i)),
			Address: "supplier" + string(rune('a'+i)) + "@example.com",
		}
	}
	return out
}

func TestCampaignService_Launch_InvalidRequest(t *testing.T) {
	f := newCampaignFixture(t, 100)

	req := validLaunchRequest()
	req.TemplateID = ""

	_, err := f.svc.Launch(context.Background(), req)
	assert.ErrorContains(t, err, "template id")
}

func TestCampaignService_Launch_UnknownSegment(t *testing.T) {
	f := newCampaignFixture(t, 100)

	req := validLaunchRequest()
	req.SegmentKey = "everyone"

	_, err := f.svc.Launch(context.Background(), req)
	assert.ErrorContains(t, err, "unknown segment key")
}

func TestCampaignService_Launch_CapacityExhausted(t *testing.T) {
	f := newCampaignFixture(t, 100)

	// Everything admitted today already consumed the ceiling. Nothing else
	// may be called: no audience resolution, no enqueue.
	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(100, nil)

	result, err := f.svc.Launch(context.Background(), validLaunchRequest())
	require.NoError(t, err)
	assert.Equal(t, model.LaunchStatusCapacityExhausted, result.Status)
	assert.Zero(t, result.Queued)
}

func TestCampaignService_Launch_EmptySegment(t *testing.T) {
	f := newCampaignFixture(t, 100)

	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(0, nil)
	f.audience.EXPECT().ResolveSegment(gomock.Any(), gomock.Any(), 0).Return(nil, nil)

	result, err := f.svc.Launch(context.Background(), validLaunchRequest())
	require.NoError(t, err)
	assert.Equal(t, model.LaunchStatusEmptySegment, result.Status)
}

func TestCampaignService_Launch_TemplateProbeFails(t *testing.T) {
	f := newCampaignFixture(t, 100)

	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(0, nil)
	f.audience.EXPECT().ResolveSegment(gomock.Any(), gomock.Any(), 0).Return(recipients(2), nil)
	f.renderer.EXPECT().
		Render(gomock.Any(), "tmpl-claim", gomock.Any()).
		Return(nil, errors.New("unknown placeholder"))

	_, err := f.svc.Launch(context.Background(), validLaunchRequest())
	assert.ErrorContains(t, err, "failed validation")
}

func TestCampaignService_Launch_Queued(t *testing.T) {
	f := newCampaignFixture(t, 100)
	ctx := context.Background()
	audience := recipients(3)

	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(10, nil)
	f.audience.EXPECT().ResolveSegment(gomock.Any(), gomock.Any(), 0).Return(audience, nil)
	f.renderer.EXPECT().Render(gomock.Any(), "tmpl-claim", gomock.Any()).Return(nil, nil)
	f.campaigns.EXPECT().Create(gomock.Any(), gomock.Any()).Return(&model.Campaign{ID: "camp-1"}, nil)

	// rec-a is suppressed; rec-b already has a non-terminal job.
	f.suppressions.EXPECT().
		FilterSuppressed(gomock.Any(), gomock.Any()).
		Return(map[string]bool{audience[0].ID: true}, nil)
	f.jobs.EXPECT().HasNonTerminal(gomock.Any(), "camp-1", audience[1].ID).Return(true, nil)
	f.jobs.EXPECT().HasNonTerminal(gomock.Any(), "camp-1", audience[2].ID).Return(false, nil)

	f.jobs.EXPECT().
		EnqueueBatch(gomock.Any(), gomock.Len(1)).
		DoAndReturn(func(_ context.Context, reqs []*model.EnqueueRequest) ([]*model.DeliveryJob, error) {
			require.Len(t, reqs, 1)
			assert.Equal(t, audience[2].ID, reqs[0].RecipientID)
			assert.Equal(t, model.TierStandard.JobPriority(), reqs[0].Priority)
			return []*model.DeliveryJob{{ID: "job-1"}}, nil
		})

	result, err := f.svc.Launch(ctx, validLaunchRequest())
	require.NoError(t, err)
	assert.Equal(t, model.LaunchStatusQueued, result.Status)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, result.Suppressed)
	assert.Equal(t, 1, result.Skipped)
	assert.InDelta(t, 0.04, result.EstimatedConversions, 1e-9)
}

func TestCampaignService_Launch_CapacityTruncatesBatch(t *testing.T) {
	f := newCampaignFixture(t, 12)
	audience := recipients(4)

	// 10 already admitted today leaves room for 2.
	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(10, nil)
	f.audience.EXPECT().ResolveSegment(gomock.Any(), gomock.Any(), 0).Return(audience, nil)
	f.renderer.EXPECT().Render(gomock.Any(), "tmpl-claim", gomock.Any()).Return(nil, nil)
	f.campaigns.EXPECT().Create(gomock.Any(), gomock.Any()).Return(&model.Campaign{ID: "camp-1"}, nil)
	f.suppressions.EXPECT().FilterSuppressed(gomock.Any(), gomock.Any()).Return(nil, nil)
	for _, r := range audience {
		f.jobs.EXPECT().HasNonTerminal(gomock.Any(), "camp-1", r.ID).Return(false, nil)
	}

	f.jobs.EXPECT().
		EnqueueBatch(gomock.Any(), gomock.Len(2)).
		DoAndReturn(func(_ context.Context, reqs []*model.EnqueueRequest) ([]*model.DeliveryJob, error) {
			jobs := make([]*model.DeliveryJob, len(reqs))
			for i := range reqs {
				jobs[i] = &model.DeliveryJob{ID: reqs[i].RecipientID}
			}
			return jobs, nil
		})

	result, err := f.svc.Launch(context.Background(), validLaunchRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Queued)
	assert.Equal(t, 2, result.Skipped)
}

func TestCampaignService_Launch_ExistingCampaignTolerated(t *testing.T) {
	f := newCampaignFixture(t, 100)
	audience := recipients(1)

	f.jobs.EXPECT().CountAdmittedSince(gomock.Any(), gomock.Any()).Return(0, nil)
	f.audience.EXPECT().ResolveSegment(gomock.Any(), gomock.Any(), 0).Return(audience, nil)
	f.renderer.EXPECT().Render(gomock.Any(), "tmpl-claim", gomock.Any()).Return(nil, nil)
	f.campaigns.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, data.ErrCampaignExists)
	f.suppressions.EXPECT().FilterSuppressed(gomock.Any(), gomock.Any()).Return(nil, nil)
	f.jobs.EXPECT().HasNonTerminal(gomock.Any(), "camp-1", audience[0].ID).Return(false, nil)
	f.jobs.EXPECT().
		EnqueueBatch(gomock.Any(), gomock.Any()).
		Return([]*model.DeliveryJob{{ID: "job-1"}}, nil)

	result, err := f.svc.Launch(context.Background(), validLaunchRequest())
	require.NoError(t, err)
	assert.Equal(t, model.LaunchStatusQueued, result.Status)
}
