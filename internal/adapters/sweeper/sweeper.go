// Package sweeper provides the promotion loop that moves due scheduled jobs
// into the ready set.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	obserrors "github.com/procurely/outreach/internal/observability/errors"
	"github.com/procurely/outreach/internal/observability/metrics"
	"github.com/procurely/outreach/internal/observability/statsd"
	"github.com/procurely/outreach/internal/service"
)

// Runner ticks at a fixed interval and promotes scheduled jobs whose due
// time has passed. Promotion notifies dispatch workers through the queue's
// availability channel.
type Runner struct {
	queue     *service.QueueService
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   statsd.Sink
}

// RunnerOptions holds the dependencies for creating a sweeper Runner.
type RunnerOptions struct {
	DB      *sql.DB
	Config  config.SweeperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Optional dependency injections for testing/decoupling
	JobsRepo core.JobRepository
	Queue    *service.QueueService
}

// NewRunner creates a sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.JobsRepo == nil && opts.Queue == nil {
		return nil, errors.New("one of DB, JobsRepo or Queue must be provided")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Config
	cfg.Sanitize()

	queue := opts.Queue
	if queue == nil {
		repo := opts.JobsRepo
		if repo == nil {
			repo = data.NewJobRepo(opts.DB, data.JobRepoConfig{})
		}
		var err error
		queue, err = service.NewQueueService(service.QueueServiceOptions{
			Repo:         repo,
			DefaultLease: 60 * time.Second,
			Logger:       opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build queue service: %w", err)
		}
	}

	return &Runner{
		queue:     queue,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger.With("component", "sweeper"),
		metrics:   opts.Metrics,
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

// Run starts the promotion loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			start := time.Now()
			promoted, err := r.queue.PromoteDue(ctx, r.batchSize)
			elapsed := time.Since(start)

			r.emitTickMetrics(promoted, elapsed, err)

			if err != nil {
				if isContextCancellation(err) {
					continue
				}
				// Keep ticking; a transient DB error should not take the
				// promotion loop down.
				r.logger.ErrorContext(ctx, "promote due jobs failed", "error", err)
			} else if promoted > 0 {
				r.logger.DebugContext(ctx, "promoted scheduled jobs", "count", promoted)
			}
		}
	}
}

func (r *Runner) emitTickMetrics(promoted int, elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if promoted == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("sweeper.tick", 1, tags)

	if promoted > 0 {
		r.metrics.Count("sweeper.jobs_promoted", int64(promoted), tags)
	}

	if elapsed > 0 {
		r.metrics.Timing("sweeper.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if err == nil {
		r.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
