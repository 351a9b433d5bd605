package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/mocks"
	"github.com/procurely/outreach/internal/ratelimit"
	"github.com/procurely/outreach/internal/service"
)

// stubRateGate replays a fixed script of decisions.
type stubRateGate struct {
	decisions []ratelimit.Decision
	err       error
	calls     int
}

func (g *stubRateGate) TryAcquire(_ context.Context) (ratelimit.Decision, error) {
	if g.err != nil {
		return ratelimit.Decision{}, g.err
	}
	i := g.calls
	if i >= len(g.decisions) {
		i = len(g.decisions) - 1
	}
	g.calls++
	return g.decisions[i], nil
}

func granted() *stubRateGate {
	return &stubRateGate{decisions: []ratelimit.Decision{{Granted: true}}}
}

type dispatcherFixture struct {
	jobs         *mocks.MockJobRepository
	sequences    *mocks.MockSequenceRepository
	state        *mocks.MockRecipientStateQuery
	events       *mocks.MockMetricRepository
	suppressions *mocks.MockSuppressionRepository
	renderer     *mocks.MockTemplateRenderer
	provider     *mocks.MockDeliveryProvider
	gate         *stubRateGate
	clock        *data.FixedTimeProvider
	runner       *Runner
}

func newDispatcherFixture(t *testing.T, gate *stubRateGate) *dispatcherFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &dispatcherFixture{
		jobs:         mocks.NewMockJobRepository(ctrl),
		sequences:    mocks.NewMockSequenceRepository(ctrl),
		state:        mocks.NewMockRecipientStateQuery(ctrl),
		events:       mocks.NewMockMetricRepository(ctrl),
		suppressions: mocks.NewMockSuppressionRepository(ctrl),
		renderer:     mocks.NewMockTemplateRenderer(ctrl),
		provider:     mocks.NewMockDeliveryProvider(ctrl),
		gate:         gate,
		clock:        data.NewFixedTimeProvider(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)),
	}

	seqSvc := service.MustNewSequenceService(service.SequenceServiceOptions{
		Sequences:    f.sequences,
		Jobs:         f.jobs,
		State:        f.state,
		TimeProvider: f.clock,
	})
	statsSvc := service.MustNewStatsService(service.StatsServiceOptions{
		Events: f.events,
	})

	f.runner = MustNewRunner(RunnerOptions{
		JobsRepo:     f.jobs,
		Sequences:    seqSvc,
		Stats:        statsSvc,
		Suppressions: f.suppressions,
		Renderer:     f.renderer,
		Provider:     f.provider,
		Limiter:      f.gate,
		MaxRateWait:  50 * time.Millisecond,
		SendTimeout:  time.Second,
		TimeProvider: f.clock,
	})
	return f
}

func deliveryJob() *model.DeliveryJob {
	return &model.DeliveryJob{
		ID:          "job-1",
		CampaignID:  "camp-1",
		RecipientID: "rec-1",
		Address:     "vendor@example.com",
		TemplateID:  "tmpl-claim",
		Subject:     "Claim your listing",
		Priority:    50,
		Status:      model.JobStatusInFlight,
		MaxAttempts: 5,
	}
}

func expectRendered(f *dispatcherFixture) {
	f.renderer.EXPECT().
		Render(gomock.Any(), "tmpl-claim", gomock.Any()).
		Return(&core.RenderedContent{Subject: "Claim your listing", Body: "hello"}, nil)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be provided")

	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobRepository(ctrl)

	_, err = NewRunner(RunnerOptions{JobsRepo: jobs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer is required")
}

func TestProcessJob_SentRecordsAndAcks(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req core.SendRequest) (*core.SendResult, error) {
			assert.Equal(t, "vendor@example.com", req.Address)
			assert.Equal(t, "camp-1", req.Tags["campaign_id"])
			return &core.SendResult{Status: core.SendStatusSent, ProviderMessageID: "msg-1"}, nil
		})
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.True(t, outcome.Success)
			j := deliveryJob()
			j.Status = model.JobStatusSucceeded
			return j, nil
		})
	f.events.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *model.MetricEvent) (bool, error) {
			assert.Equal(t, model.EventSent, event.EventType)
			assert.Equal(t, "job-1", event.JobID)
			assert.Equal(t, 1, event.Attempt)
			return true, nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_RateDeniedBeyondWaitReschedules(t *testing.T) {
	gate := &stubRateGate{decisions: []ratelimit.Decision{
		{Granted: false, DeniedBy: ratelimit.WindowHour, RetryAfter: 10 * time.Minute},
	}}
	f := newDispatcherFixture(t, gate)
	job := deliveryJob()

	// No render, no send. The job goes back throttled with the window delay
	// and without consuming an attempt.
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindThrottled, outcome.Failure)
			assert.Equal(t, 10*time.Minute, outcome.RetryAfter)
			return deliveryJob(), nil
		})

	f.runner.processJob(context.Background(), job)
	assert.Equal(t, 1, gate.calls)
}

func TestProcessJob_RateDeniedShortWaitRetriesInPlace(t *testing.T) {
	gate := &stubRateGate{decisions: []ratelimit.Decision{
		{Granted: false, DeniedBy: ratelimit.WindowSecond, RetryAfter: time.Millisecond},
		{Granted: true},
	}}
	f := newDispatcherFixture(t, gate)
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusSent}, nil)
	f.jobs.EXPECT().Ack(gomock.Any(), "job-1", gomock.Any()).Return(deliveryJob(), nil)
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)

	f.runner.processJob(context.Background(), job)
	assert.Equal(t, 2, gate.calls)
}

func TestProcessJob_BouncedSuppressesRecipient(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusBounced}, nil)
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindPermanent, outcome.Failure)
			return deliveryJob(), nil
		})
	f.suppressions.EXPECT().
		Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sup *model.Suppression) error {
			assert.Equal(t, "rec-1", sup.RecipientID)
			assert.Equal(t, "hard_bounce", sup.Reason)
			return nil
		})
	f.events.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *model.MetricEvent) (bool, error) {
			assert.Equal(t, model.EventBounced, event.EventType)
			return true, nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_RejectedSuppressesWithoutBounceEvent(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusRejected}, nil)
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindPermanent, outcome.Failure)
			return deliveryJob(), nil
		})
	f.suppressions.EXPECT().
		Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sup *model.Suppression) error {
			assert.Equal(t, "provider_rejected", sup.Reason)
			return nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_ProviderThrottleDoesNotConsumeAttempt(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusThrottled}, nil)
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindThrottled, outcome.Failure)
			assert.Zero(t, outcome.RetryAfter)
			return deliveryJob(), nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_SendErrorIsTransient(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset"))
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindTransient, outcome.Failure)
			assert.Contains(t, outcome.Err, "connection reset")
			return deliveryJob(), nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_RenderErrorIsPermanent(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	f.renderer.EXPECT().
		Render(gomock.Any(), "tmpl-claim", gomock.Any()).
		Return(nil, errors.New("unknown placeholder"))
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindPermanent, outcome.Failure)
			assert.Contains(t, outcome.Err, "tmpl-claim")
			return deliveryJob(), nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_CancelledInstanceShortCircuits(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()
	instanceID := "inst-1"
	step := 1
	job.SequenceInstanceID = &instanceID
	job.StepIndex = &step

	f.sequences.EXPECT().
		GetInstance(gomock.Any(), "inst-1").
		Return(&model.SequenceInstance{ID: "inst-1", State: model.InstanceCancelled}, nil)
	// No rate acquire, no render, no send.
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindCancelled, outcome.Failure)
			return deliveryJob(), nil
		})

	f.runner.processJob(context.Background(), job)
	assert.Zero(t, f.gate.calls)
}

func TestProcessJob_SequenceStepAdvancesOnSuccess(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()
	instanceID := "inst-1"
	step := 0
	job.SequenceInstanceID = &instanceID
	job.StepIndex = &step

	def := &model.SequenceDefinition{
		ID: "def-1",
		Steps: []model.SequenceStep{
			{DayOffset: 0, TemplateID: "tmpl-claim", Subject: "Claim your listing"},
		},
		StopConditions: []model.StopCondition{model.StopOnClaim},
	}
	inst := &model.SequenceInstance{
		ID:           "inst-1",
		DefinitionID: "def-1",
		RecipientID:  "rec-1",
		State:        model.InstanceScheduled,
	}

	f.sequences.EXPECT().GetInstance(gomock.Any(), "inst-1").Return(inst, nil)
	f.sequences.EXPECT().GetDefinition(gomock.Any(), "def-1").Return(def, nil)
	f.state.EXPECT().
		HasCompletedAction(gomock.Any(), "rec-1", string(model.StopOnClaim)).
		Return(false, nil)

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusSent}, nil)
	acked := deliveryJob()
	acked.SequenceInstanceID = &instanceID
	acked.StepIndex = &step
	acked.Status = model.JobStatusSucceeded
	f.jobs.EXPECT().Ack(gomock.Any(), "job-1", gomock.Any()).Return(acked, nil)
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(true, nil)
	f.sequences.EXPECT().
		AdvanceStep(gomock.Any(), "inst-1", 0).
		DoAndReturn(func(_ context.Context, id string, step int) (*model.SequenceInstance, error) {
			done := *inst
			done.State = model.InstanceCompleted
			done.NextStep = 1
			return &done, nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_SequenceStepAdvancesOnRetryExhaustion(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()
	instanceID := "inst-1"
	step := 0
	job.SequenceInstanceID = &instanceID
	job.StepIndex = &step
	job.AttemptCount = 4

	def := &model.SequenceDefinition{
		ID: "def-1",
		Steps: []model.SequenceStep{
			{DayOffset: 0, TemplateID: "tmpl-claim", Subject: "Claim your listing"},
		},
		StopConditions: []model.StopCondition{model.StopOnClaim},
	}
	inst := &model.SequenceInstance{
		ID:           "inst-1",
		DefinitionID: "def-1",
		RecipientID:  "rec-1",
		State:        model.InstanceScheduled,
	}

	f.sequences.EXPECT().GetInstance(gomock.Any(), "inst-1").Return(inst, nil)
	f.sequences.EXPECT().GetDefinition(gomock.Any(), "def-1").Return(def, nil)
	f.state.EXPECT().
		HasCompletedAction(gomock.Any(), "rec-1", string(model.StopOnClaim)).
		Return(false, nil)

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset"))

	// The final allowed attempt fails, so the ack dead-letters the job.
	// The step still resolves so the instance can complete.
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindTransient, outcome.Failure)
			dead := deliveryJob()
			dead.SequenceInstanceID = &instanceID
			dead.StepIndex = &step
			dead.AttemptCount = 5
			dead.Status = model.JobStatusDead
			return dead, nil
		})
	f.sequences.EXPECT().
		AdvanceStep(gomock.Any(), "inst-1", 0).
		DoAndReturn(func(_ context.Context, id string, step int) (*model.SequenceInstance, error) {
			done := *inst
			done.State = model.InstanceCompleted
			done.NextStep = 1
			return &done, nil
		})

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_SequenceStepAdvancesOnPermanentRenderFailure(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()
	instanceID := "inst-1"
	step := 1
	job.SequenceInstanceID = &instanceID
	job.StepIndex = &step

	inst := &model.SequenceInstance{
		ID:           "inst-1",
		DefinitionID: "def-1",
		RecipientID:  "rec-1",
		State:        model.InstanceScheduled,
	}
	def := &model.SequenceDefinition{
		ID: "def-1",
		Steps: []model.SequenceStep{
			{DayOffset: 0, TemplateID: "tmpl-claim", Subject: "Claim your listing"},
			{DayOffset: 3, TemplateID: "tmpl-claim", Subject: "Still unclaimed"},
		},
	}

	f.sequences.EXPECT().GetInstance(gomock.Any(), "inst-1").Return(inst, nil)
	f.sequences.EXPECT().GetDefinition(gomock.Any(), "def-1").Return(def, nil)

	f.renderer.EXPECT().
		Render(gomock.Any(), "tmpl-claim", gomock.Any()).
		Return(nil, errors.New("unknown placeholder"))
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.Equal(t, model.FailureKindPermanent, outcome.Failure)
			dead := deliveryJob()
			dead.SequenceInstanceID = &instanceID
			dead.StepIndex = &step
			dead.Status = model.JobStatusDead
			return dead, nil
		})
	f.sequences.EXPECT().
		AdvanceStep(gomock.Any(), "inst-1", 1).
		Return(&model.SequenceInstance{ID: "inst-1", State: model.InstanceCompleted, NextStep: 2}, nil)

	f.runner.processJob(context.Background(), job)
}

func TestProcessJob_StatsFailureDoesNotFailJob(t *testing.T) {
	f := newDispatcherFixture(t, granted())
	job := deliveryJob()

	expectRendered(f)
	f.provider.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(&core.SendResult{Status: core.SendStatusSent}, nil)
	f.jobs.EXPECT().
		Ack(gomock.Any(), "job-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, id string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
			assert.True(t, outcome.Success)
			return deliveryJob(), nil
		})
	f.events.EXPECT().
		Append(gomock.Any(), gomock.Any()).
		Return(false, errors.New("event store down"))

	f.runner.processJob(context.Background(), job)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newDispatcherFixture(t, granted())

	f.jobs.EXPECT().
		ReserveNext(gomock.Any(), gomock.Any()).
		Return(nil, model.ErrNoJobsReady).
		AnyTimes()
	f.jobs.EXPECT().
		WaitForNotification(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}).
		AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.runner.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
