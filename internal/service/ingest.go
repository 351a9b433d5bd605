package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/domain/model"
)

// ActionRecorder persists recipient actions that back sequence stop
// conditions. *data.DirectoryRepo satisfies it.
type ActionRecorder interface {
	RecordAction(ctx context.Context, recipientID, action string) error
}

// IngestServiceOptions groups dependencies for IngestService.
type IngestServiceOptions struct {
	Stats        *StatsService
	Suppressions core.SuppressionRepository // Optional
	Actions      ActionRecorder             // Optional
	Jobs         core.JobRepository         // Optional: resolves addresses for suppression
	Logger       *slog.Logger
}

// IngestService processes asynchronous provider webhook events. Every event
// feeds the metrics pipeline; bounce, complaint, and unsubscribe events
// additionally suppress the recipient, and claim or unsubscribe events feed
// the stop-condition state that halts in-flight sequences.
type IngestService struct {
	stats        *StatsService
	suppressions core.SuppressionRepository
	actions      ActionRecorder
	jobs         core.JobRepository
	logger       *slog.Logger
}

// NewIngestService constructs a new IngestService.
func NewIngestService(opts IngestServiceOptions) (*IngestService, error) {
	if opts.Stats == nil {
		return nil, errors.New("StatsService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "ingest_service")
	}

	return &IngestService{
		stats:        opts.Stats,
		suppressions: opts.Suppressions,
		actions:      opts.Actions,
		jobs:         opts.Jobs,
		logger:       logger,
	}, nil
}

// MustNewIngestService constructs a new IngestService and panics on error.
func MustNewIngestService(opts IngestServiceOptions) *IngestService {
	svc, err := NewIngestService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create IngestService: %v", err))
	}
	return svc
}

// Ingest records the event and applies its side effects. The metric record
// is authoritative; side-effect failures are logged but do not fail the
// ingest, since a redelivered webhook would repeat them idempotently.
func (s *IngestService) Ingest(ctx context.Context, event *model.MetricEvent) error {
	if err := s.stats.Record(ctx, event); err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}

	switch event.EventType {
	case model.EventBounced:
		s.suppress(ctx, event, "hard_bounce")
	case model.EventComplained:
		s.suppress(ctx, event, "complaint")
	case model.EventUnsubscribed:
		s.suppress(ctx, event, "unsubscribed")
		s.recordAction(ctx, event, model.StopOnUnsubscribe.ActionName())
	case model.EventClaimed:
		s.recordAction(ctx, event, model.StopOnClaim.ActionName())
	}
	return nil
}

func (s *IngestService) suppress(ctx context.Context, event *model.MetricEvent, reason string) {
	if s.suppressions == nil {
		return
	}

	sup := &model.Suppression{
		RecipientID: event.RecipientID,
		Address:     s.lookupAddress(ctx, event),
		Reason:      reason,
	}
	if err := s.suppressions.Add(ctx, sup); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "suppress recipient from webhook failed",
			"recipient_id", event.RecipientID, "reason", reason, "error", err)
	}
}

func (s *IngestService) lookupAddress(ctx context.Context, event *model.MetricEvent) string {
	if s.jobs == nil || event.JobID == "" {
		return ""
	}
	job, err := s.jobs.GetByID(ctx, event.JobID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "lookup job for webhook event failed",
				"job_id", event.JobID, "error", err)
		}
		return ""
	}
	return job.Address
}

func (s *IngestService) recordAction(ctx context.Context, event *model.MetricEvent, action string) {
	if s.actions == nil {
		return
	}
	if err := s.actions.RecordAction(ctx, event.RecipientID, action); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "record recipient action from webhook failed",
			"recipient_id", event.RecipientID, "action", action, "error", err)
	}
}
