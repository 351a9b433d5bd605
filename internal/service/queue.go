package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurely/outreach/internal/core"
	domainjob "github.com/procurely/outreach/internal/domain/job"
	"github.com/procurely/outreach/internal/domain/model"
)

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Repo            core.JobRepository        // Required: durable job queue
	DefaultLease    time.Duration             // Required: default lease duration for reservations
	Logger          *slog.Logger              // Optional: structured logger
	LeasePolicy     *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier        domainjob.Notifier        // Optional: custom availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// QueueService provides business logic for the delivery queue: enqueueing,
// reservation with lease management, acknowledgement, and the wakeup fan-out
// workers block on between dispatches.
type QueueService struct {
	repo        core.JobRepository
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	logger      *slog.Logger
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create queue notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "queue_service")
		logger.Debug("QueueService initialized",
			"default_lease", leasePolicy.Default(),
		)
	}

	return &QueueService{
		repo:        opts.Repo,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
	}, nil
}

// MustNewQueueService constructs a new QueueService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewQueueService(opts QueueServiceOptions) *QueueService {
	svc, err := NewQueueService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create QueueService: %v", err))
	}
	return svc
}

// Enqueue validates and inserts a single delivery job. Returns nil when an
// equivalent non-terminal job already exists for the (campaign, recipient,
// step) triple.
func (s *QueueService) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.DeliveryJob, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate enqueue request: %w", err)
	}

	job, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue delivery job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "delivery job enqueued",
			"id", job.ID,
			"campaign_id", job.CampaignID,
			"priority", job.Priority,
			"status", job.Status,
		)
	}

	return job, nil
}

// EnqueueBatch validates and inserts a batch of jobs in the given order.
// Requests that collide with an existing non-terminal job for the same
// (campaign, recipient, step) triple are skipped; the created jobs are
// returned.
func (s *QueueService) EnqueueBatch(ctx context.Context, reqs []*model.EnqueueRequest) ([]*model.DeliveryJob, error) {
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("validate enqueue request %d: %w", i, err)
		}
	}

	jobs, err := s.repo.EnqueueBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("enqueue delivery batch: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "delivery batch enqueued",
			"requested", len(reqs),
			"created", len(jobs),
		)
	}

	return jobs, nil
}

// Schedule places a job in the delayed set with the given due time.
func (s *QueueService) Schedule(
	ctx context.Context,
	req *model.EnqueueRequest,
	dueAt time.Time,
) (*model.DeliveryJob, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate schedule request: %w", err)
	}

	job, err := s.repo.Schedule(ctx, req, dueAt)
	if err != nil {
		return nil, fmt.Errorf("schedule delivery job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "delivery job scheduled",
			"id", job.ID,
			"campaign_id", job.CampaignID,
			"due_at", dueAt,
		)
	}

	return job, nil
}

// ReserveNext leases the highest-priority due job for processing. Returns
// model.ErrNoJobsReady when the ready set is empty.
func (s *QueueService) ReserveNext(ctx context.Context, lease time.Duration) (*model.DeliveryJob, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested)
	}

	job, err := s.repo.ReserveNext(ctx, core.ReserveOptions{LeaseSeconds: decision.Seconds})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsReady) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next delivery job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "delivery job reserved",
			"id", job.ID,
			"campaign_id", job.CampaignID,
			"attempt", job.AttemptCount,
			"lease_seconds", decision.Seconds,
		)
	}

	return job, nil
}

// Heartbeat extends the lease on a job to indicate it's still being processed.
func (s *QueueService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second heartbeat duration to 1 second",
			"requested_duration", decision.Requested,
			"job_id", id)
	}

	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "job lease extended", "id", id, "extend_seconds", decision.Seconds)
	}

	return updated, nil
}

// Ack resolves a leased job with the given outcome.
func (s *QueueService) Ack(
	ctx context.Context,
	id string,
	outcome model.AckOutcome,
) (*model.DeliveryJob, error) {
	job, err := s.repo.Ack(ctx, id, outcome)
	if err != nil {
		return nil, fmt.Errorf("ack job %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "delivery job acknowledged",
			"id", job.ID,
			"status", job.Status,
			"attempt", job.AttemptCount,
			"failure", job.LastFailure,
		)
	}

	return job, nil
}

// PromoteDue moves delayed jobs whose due time has passed into the ready set.
func (s *QueueService) PromoteDue(ctx context.Context, limit int) (int, error) {
	promoted, err := s.repo.PromoteDue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}

	if s.logger != nil && promoted > 0 {
		s.logger.DebugContext(ctx, "delayed jobs promoted", "count", promoted)
	}

	return promoted, nil
}

// GetByID returns a job by its ID.
func (s *QueueService) GetByID(ctx context.Context, id string) (*model.DeliveryJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// Stats returns counts of jobs in each queue state.
func (s *QueueService) Stats(ctx context.Context) (*model.QueueStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return stats, nil
}

// Subscribe creates a subscription for job-availability wakeups. Returns an
// unsubscribe function and the wakeup channel.
func (s *QueueService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// StopListeners stops the availability listener and closes all subscriber
// channels. Call during graceful shutdown.
func (s *QueueService) StopListeners() {
	if s.logger != nil {
		s.logger.Info("stopping queue listeners")
	}

	if s.notifier != nil {
		s.notifier.Stop()
	}
}
