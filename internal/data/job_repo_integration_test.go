package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/testutil"
)

func seedCampaign(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	repo := NewCampaignRepo(db, nil)
	_, err := repo.Create(context.Background(), &model.Campaign{
		ID:         id,
		Name:       "integration test campaign",
		SegmentKey: string(model.SegmentUnclaimedListings),
		TemplateID: "tmpl-claim",
		Tier:       model.TierStandard,
	})
	require.NoError(t, err)
}

func TestJobRepo_Integration_PriorityOrderAndLeaseExpiry(t *testing.T) {
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: clock})
		seedCampaign(t, db, "camp-order")

		for _, fixture := range []struct {
			recipient string
			priority  int
		}{
			{"rec-bulk", model.TierBulk.JobPriority()},
			{"rec-urgent", model.TierUrgent.JobPriority()},
			{"rec-standard", model.TierStandard.JobPriority()},
		} {
			_, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().
				WithCampaign("camp-order").
				WithRecipient(fixture.recipient, fixture.recipient+"@example.com").
				WithPriority(fixture.priority).
				Build())
			require.NoError(t, err)
		}

		opts := core.ReserveOptions{LeaseSeconds: 60}

		first, err := repo.ReserveNext(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, "rec-urgent", first.RecipientID)
		assert.Equal(t, model.JobStatusInFlight, first.Status)
		require.NotNil(t, first.LeaseExpiresAt)

		second, err := repo.ReserveNext(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, "rec-standard", second.RecipientID)

		third, err := repo.ReserveNext(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, "rec-bulk", third.RecipientID)

		_, err = repo.ReserveNext(ctx, opts)
		assert.ErrorIs(t, err, model.ErrNoJobsReady)

		// An expired lease puts the job back in the ready set on the next reserve.
		clock.AddTime(2 * time.Minute)
		requeued, err := repo.ReserveNext(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, "rec-urgent", requeued.RecipientID)
	})
}

func TestJobRepo_Integration_AckTransitions(t *testing.T) {
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: clock})
		seedCampaign(t, db, "camp-ack")

		_, err := repo.Enqueue(ctx, testutil.NewEnqueueRequest().
			WithCampaign("camp-ack").
			Build())
		require.NoError(t, err)

		opts := core.ReserveOptions{LeaseSeconds: 60}
		job, err := repo.ReserveNext(ctx, opts)
		require.NoError(t, err)

		// A transient failure consumes an attempt and parks the job with backoff.
		failed, err := repo.Ack(ctx, job.ID, model.AckFailure(model.FailureKindTransient, "smtp timeout"))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRetrying, failed.Status)
		assert.Equal(t, 1, failed.AttemptCount)
		assert.True(t, failed.NotBefore.After(clock.Now()))

		// Not reservable until the backoff elapses and the sweep promotes it.
		_, err = repo.ReserveNext(ctx, opts)
		assert.ErrorIs(t, err, model.ErrNoJobsReady)

		clock.AddTime(time.Hour)
		promoted, err := repo.PromoteDue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, promoted)

		job, err = repo.ReserveNext(ctx, opts)
		require.NoError(t, err)

		done, err := repo.Ack(ctx, job.ID, model.AckSuccess())
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusSucceeded, done.Status)
		assert.Equal(t, 1, done.AttemptCount)
		require.NotNil(t, done.TerminalAt)
	})
}

func TestJobRepo_Integration_ScheduleAndPromote(t *testing.T) {
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: clock})
		seedCampaign(t, db, "camp-sched")

		dueAt := clock.Now().Add(30 * time.Minute)
		job, err := repo.Schedule(ctx, testutil.NewEnqueueRequest().
			WithCampaign("camp-sched").
			Build(), dueAt)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusScheduled, job.Status)

		promoted, err := repo.PromoteDue(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, promoted)

		clock.AddTime(31 * time.Minute)
		promoted, err = repo.PromoteDue(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, promoted)

		reserved, err := repo.ReserveNext(ctx, core.ReserveOptions{LeaseSeconds: 60})
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)
	})
}

func TestJobRepo_Integration_DuplicateActiveJobAbsorbed(t *testing.T) {
	testutil.WithEphemeralDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, JobRepoConfig{})
		seedCampaign(t, db, "camp-dup")

		req := testutil.NewEnqueueRequest().WithCampaign("camp-dup").Build()

		created, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, created)

		absorbed, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, absorbed)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
	})
}
