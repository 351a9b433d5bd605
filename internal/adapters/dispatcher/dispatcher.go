// Package dispatcher pulls leased delivery jobs off the queue and pushes
// them through the configured provider, honoring rate ceilings and sequence
// stop conditions.
package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/observability/metrics"
	"github.com/procurely/outreach/internal/observability/statsd"
	"github.com/procurely/outreach/internal/ratelimit"
	"github.com/procurely/outreach/internal/service"
)

// RateGate admits or denies one send against the configured ceilings.
// *ratelimit.Limiter satisfies it.
type RateGate interface {
	TryAcquire(ctx context.Context) (ratelimit.Decision, error)
}

// RecipientLookup fetches one directory record for render-time
// personalization. *data.DirectoryRepo satisfies it.
type RecipientLookup interface {
	GetRecord(ctx context.Context, id string) (*model.Recipient, error)
}

// RunnerOptions configures the dispatch runner adapter.
type RunnerOptions struct {
	DB     *sql.DB
	Logger *slog.Logger

	// Job processing settings
	Lease       time.Duration // per-job lease duration; defaults to 60s
	Workers     int           // number of worker goroutines; defaults to 1
	SendTimeout time.Duration // upper bound on one provider call; defaults to 30s
	// MaxRateWait is the longest a worker holds its lease waiting for a rate
	// window to roll before handing the job back to the queue.
	MaxRateWait time.Duration // defaults to 5s

	// Required collaborators
	Renderer core.TemplateRenderer
	Provider core.DeliveryProvider
	Limiter  RateGate

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo     core.JobRepository
	Queue        *service.QueueService
	Sequences    *service.SequenceService
	Stats        *service.StatsService
	Suppressions core.SuppressionRepository
	Directory    RecipientLookup
	Metrics      statsd.Sink
	TimeProvider data.TimeProvider
}

// Runner pulls delivery jobs and executes send attempts against the provider.
type Runner struct {
	queue        *service.QueueService
	sequences    *service.SequenceService
	stats        *service.StatsService
	suppressions core.SuppressionRepository
	directory    RecipientLookup
	renderer     core.TemplateRenderer
	provider     core.DeliveryProvider
	limiter      RateGate
	logger       *slog.Logger
	lease        time.Duration
	sendTimeout  time.Duration
	maxRateWait  time.Duration
	workers      int
	metrics      statsd.Sink
	clock        data.TimeProvider
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func buildQueueService(opts RunnerOptions, lease time.Duration) (*service.QueueService, error) {
	if opts.Queue != nil {
		return opts.Queue, nil
	}
	repo := opts.JobsRepo
	if repo == nil {
		repo = data.NewJobRepo(opts.DB, data.JobRepoConfig{TimeProvider: opts.TimeProvider})
	}
	return service.NewQueueService(service.QueueServiceOptions{
		Repo:         repo,
		DefaultLease: lease,
		Logger:       opts.Logger,
	})
}

// NewRunner wires repositories/services and constructs a dispatch runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil && opts.Queue == nil {
		return nil, errors.New("one of DB, JobsRepo or Queue must be provided")
	}
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("limiter is required")
	}

	logger := resolveLogger(opts.Logger)

	lease := opts.Lease
	if lease <= 0 {
		lease = 60 * time.Second
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	maxRateWait := opts.MaxRateWait
	if maxRateWait <= 0 {
		maxRateWait = 5 * time.Second
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	queue, err := buildQueueService(opts, lease)
	if err != nil {
		return nil, fmt.Errorf("build queue service: %w", err)
	}

	return &Runner{
		queue:        queue,
		sequences:    opts.Sequences,
		stats:        opts.Stats,
		suppressions: opts.Suppressions,
		directory:    opts.Directory,
		renderer:     opts.Renderer,
		provider:     opts.Provider,
		limiter:      opts.Limiter,
		logger:       logger.With("component", "dispatcher"),
		lease:        lease,
		sendTimeout:  sendTimeout,
		maxRateWait:  maxRateWait,
		workers:      workers,
		metrics:      opts.Metrics,
		clock:        clock,
	}, nil
}

// MustNewRunner is like NewRunner but panics on error.
func MustNewRunner(opts RunnerOptions) *Runner {
	r, err := NewRunner(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // fail fast on invalid wiring
	}
	return r
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting dispatcher", "workers", r.workers, "lease", r.lease)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.queue.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.queue.ReserveNext(ctx, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsReady):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.DeliveryJob) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitDispatchLifecycle(r.metrics, metrics.DispatchMetric{
			CampaignID: job.CampaignID,
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	proceed, err := r.checkStopConditions(ctx, job)
	if err != nil {
		r.ack(ctx, job, model.AckFailure(model.FailureKindTransient, err.Error()))
		emit("stop_check", metrics.ResultError, err)
		return
	}
	if !proceed {
		r.ack(ctx, job, model.AckFailure(model.FailureKindCancelled, "sequence stop condition fired"))
		emit("cancelled", metrics.ResultNoop, nil)
		return
	}

	granted, retryAfter, err := r.acquireRate(ctx)
	if err != nil {
		r.ack(ctx, job, model.AckFailure(model.FailureKindTransient, err.Error()))
		emit("rate_acquire", metrics.ResultError, err)
		return
	}
	if !granted {
		// The window rolls further out than we are willing to hold the
		// lease; hand the job back without consuming an attempt.
		r.ack(ctx, job, model.AckOutcome{Failure: model.FailureKindThrottled, Err: "rate ceiling reached", RetryAfter: retryAfter})
		emit("rate_deferred", metrics.ResultThrottled, nil)
		return
	}

	variables, err := r.renderVariables(ctx, job)
	if err != nil {
		r.ack(ctx, job, model.AckFailure(model.FailureKindTransient, err.Error()))
		emit("render", metrics.ResultError, err)
		return
	}

	content, err := r.renderer.Render(ctx, job.TemplateID, variables)
	if err != nil {
		// Render failures do not heal on retry; the template or its
		// variables are wrong for this recipient.
		r.ack(ctx, job, model.AckFailure(model.FailureKindPermanent, fmt.Sprintf("render template %s: %v", job.TemplateID, err)))
		emit("render", metrics.ResultDead, err)
		return
	}

	result, err := r.send(ctx, job, content)
	if err != nil {
		r.ack(ctx, job, model.AckFailure(model.FailureKindTransient, err.Error()))
		emit("send", metrics.ResultError, err)
		return
	}

	r.resolveSendResult(ctx, job, result, emit)
}

// checkStopConditions re-evaluates sequence stop conditions at dispatch time.
// Conditions may have fired between enqueue and lease.
func (r *Runner) checkStopConditions(ctx context.Context, job *model.DeliveryJob) (bool, error) {
	if r.sequences == nil || !job.SequenceJob() {
		return true, nil
	}
	proceed, err := r.sequences.ShouldDispatch(ctx, job)
	if err != nil {
		return false, fmt.Errorf("evaluate stop conditions: %w", err)
	}
	return proceed, nil
}

// acquireRate blocks until a send slot is granted, the wait exceeds
// maxRateWait, or the context is cancelled. A false return means the job
// should be handed back with the reported delay.
func (r *Runner) acquireRate(ctx context.Context) (bool, time.Duration, error) {
	for {
		decision, err := r.limiter.TryAcquire(ctx)
		if err != nil {
			return false, 0, fmt.Errorf("acquire rate slot: %w", err)
		}
		if decision.Granted {
			return true, 0, nil
		}
		if decision.RetryAfter > r.maxRateWait {
			return false, decision.RetryAfter, nil
		}
		select {
		case <-ctx.Done():
			return false, 0, ctx.Err()
		case <-time.After(decision.RetryAfter):
		}
	}
}

func (r *Runner) send(ctx context.Context, job *model.DeliveryJob, content *core.RenderedContent) (*core.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	tags := map[string]string{
		"campaign_id":  job.CampaignID,
		"job_id":       job.ID,
		"recipient_id": job.RecipientID,
	}
	if job.IsTest {
		tags["test"] = "true"
	}

	result, err := r.provider.Send(sendCtx, core.SendRequest{
		Address: job.Address,
		Content: content,
		Tags:    tags,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("provider send timed out after %s: %w", r.sendTimeout, err)
		}
		return nil, fmt.Errorf("provider send: %w", err)
	}
	return result, nil
}

func (r *Runner) resolveSendResult(
	ctx context.Context,
	job *model.DeliveryJob,
	result *core.SendResult,
	emit func(transition, result string, err error),
) {
	switch result.Status {
	case core.SendStatusSent:
		r.ack(ctx, job, model.AckSuccess())
		r.recordEvent(ctx, job, model.EventSent)
		emit("sent", metrics.ResultSuccess, nil)

	case core.SendStatusThrottled:
		// Provider-side throttle; hand the job back without consuming an
		// attempt and let the queue pick the delay.
		r.ack(ctx, job, model.AckFailure(model.FailureKindThrottled, "provider throttled"))
		emit("sent", metrics.ResultThrottled, nil)

	case core.SendStatusBounced:
		r.ack(ctx, job, model.AckFailure(model.FailureKindPermanent, "hard bounce"))
		r.suppress(ctx, job, "hard_bounce")
		r.recordEvent(ctx, job, model.EventBounced)
		emit("sent", metrics.ResultDead, nil)

	case core.SendStatusRejected:
		r.ack(ctx, job, model.AckFailure(model.FailureKindPermanent, "provider rejected address"))
		r.suppress(ctx, job, "provider_rejected")
		emit("sent", metrics.ResultDead, nil)

	default:
		err := fmt.Errorf("unknown send status %q", result.Status)
		r.ack(ctx, job, model.AckFailure(model.FailureKindTransient, err.Error()))
		emit("sent", metrics.ResultError, err)
	}
}

func (r *Runner) ack(ctx context.Context, job *model.DeliveryJob, outcome model.AckOutcome) {
	acked, err := r.queue.Ack(ctx, job.ID, outcome)
	if err != nil {
		r.logger.ErrorContext(ctx, "ack job error", "job_id", job.ID, "error", err)
		return
	}
	// Any terminal outcome resolves the step, including retry
	// exhaustion and permanent failures. Stop-condition cancellations
	// are left to the sequence service, which already cancelled the
	// whole instance.
	if acked != nil && acked.Status.Terminal() && outcome.Failure != model.FailureKindCancelled {
		r.stepResolved(ctx, acked)
	}
}

// recordEvent feeds the stats pipeline. Failures here never affect the job
// outcome; the event store can be rebuilt from provider webhooks.
func (r *Runner) recordEvent(ctx context.Context, job *model.DeliveryJob, eventType model.EventType) {
	if r.stats == nil {
		return
	}
	event := &model.MetricEvent{
		CampaignID:  job.CampaignID,
		JobID:       job.ID,
		RecipientID: job.RecipientID,
		Attempt:     job.AttemptCount + 1,
		EventType:   eventType,
		OccurredAt:  r.clock.Now().UTC(),
	}
	if err := r.stats.Record(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "record metric event failed",
			"job_id", job.ID, "event_type", eventType, "error", err)
	}
}

func (r *Runner) stepResolved(ctx context.Context, job *model.DeliveryJob) {
	if r.sequences == nil || !job.SequenceJob() {
		return
	}
	if err := r.sequences.StepResolved(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "advance sequence step failed",
			"job_id", job.ID, "sequence_instance_id", *job.SequenceInstanceID, "error", err)
	}
}

func (r *Runner) suppress(ctx context.Context, job *model.DeliveryJob, reason string) {
	if r.suppressions == nil {
		return
	}
	sup := &model.Suppression{
		RecipientID: job.RecipientID,
		Address:     job.Address,
		Reason:      reason,
	}
	if err := r.suppressions.Add(ctx, sup); err != nil {
		r.logger.ErrorContext(ctx, "suppress recipient failed",
			"recipient_id", job.RecipientID, "reason", reason, "error", err)
	}
}

// renderVariables assembles the personalization context for one job: the
// recipient's directory attributes plus the job's own identifiers.
func (r *Runner) renderVariables(ctx context.Context, job *model.DeliveryJob) (map[string]any, error) {
	variables := map[string]any{
		"campaign_id":  job.CampaignID,
		"recipient_id": job.RecipientID,
		"address":      job.Address,
		"subject":      job.Subject,
	}
	if r.directory == nil {
		return variables, nil
	}

	rec, err := r.directory.GetRecord(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			// A record deleted after enqueue renders from the job fields alone.
			return variables, nil
		}
		return nil, fmt.Errorf("lookup recipient %s: %w", job.RecipientID, err)
	}
	for k, v := range rec.Attributes {
		variables[k] = v
	}
	return variables, nil
}
