package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/domain/model"
)

// StatsServiceOptions groups dependencies for StatsService.
type StatsServiceOptions struct {
	Events core.MetricRepository // Required: authoritative append-only event store
	Cache  core.StatsCache       // Optional: fast counter layer
	Logger *slog.Logger
}

// StatsService records delivery lifecycle events and serves per-campaign
// aggregates. The durable event store is authoritative; the cache is a
// disposable acceleration layer that can be rebuilt from it at any time, so
// cache failures are logged and swallowed rather than surfaced to callers on
// the write path.
type StatsService struct {
	events core.MetricRepository
	cache  core.StatsCache
	logger *slog.Logger
}

// NewStatsService constructs a new StatsService.
func NewStatsService(opts StatsServiceOptions) (*StatsService, error) {
	if opts.Events == nil {
		return nil, errors.New("MetricRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "stats_service")
	}

	return &StatsService{
		events: opts.Events,
		cache:  opts.Cache,
		logger: logger,
	}, nil
}

// MustNewStatsService constructs a new StatsService and panics on error.
func MustNewStatsService(opts StatsServiceOptions) *StatsService {
	svc, err := NewStatsService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create StatsService: %v", err))
	}
	return svc
}

// Record appends one lifecycle event and bumps the cached counter. Duplicate
// (job, attempt, event type) observations are absorbed without error so
// provider webhook replays stay idempotent.
func (s *StatsService) Record(ctx context.Context, event *model.MetricEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("validate metric event: %w", err)
	}

	inserted, err := s.events.Append(ctx, event)
	if err != nil {
		return fmt.Errorf("append metric event: %w", err)
	}
	if !inserted {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "duplicate metric event absorbed",
				"job_id", event.JobID,
				"attempt", event.Attempt,
				"event_type", event.EventType,
			)
		}
		return nil
	}

	if s.cache != nil {
		if err := s.cache.Incr(ctx, event.CampaignID, event.EventType, 1); err != nil && s.logger != nil {
			// The event store already holds the truth; the counter catches up
			// on the next rebuild.
			s.logger.WarnContext(ctx, "failed to bump cached counter",
				"campaign_id", event.CampaignID,
				"event_type", event.EventType,
				"error", err,
			)
		}
	}

	return nil
}

// GetStats returns the campaign's counters, preferring the cache and falling
// back to the event store on a miss. The fallback result backfills the cache.
func (s *StatsService) GetStats(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	if campaignID == "" {
		return nil, errors.New("campaign id is required")
	}

	if s.cache != nil {
		stats, ok, err := s.cache.Get(ctx, campaignID)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "stats cache read failed, falling back to event store",
					"campaign_id", campaignID,
					"error", err,
				)
			}
		} else if ok {
			return stats, nil
		}
	}

	stats, err := s.events.CountsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count metric events for campaign %s: %w", campaignID, err)
	}

	if s.cache != nil {
		if err := s.cache.Replace(ctx, campaignID, stats); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to backfill stats cache",
				"campaign_id", campaignID,
				"error", err,
			)
		}
	}

	return stats, nil
}

// Rebuild replays the campaign's full event history into fresh counters and
// swaps them into the cache wholesale. Use after suspected counter drift.
func (s *StatsService) Rebuild(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	if campaignID == "" {
		return nil, errors.New("campaign id is required")
	}

	stats := &model.CampaignStats{CampaignID: campaignID}
	err := s.events.Replay(ctx, campaignID, func(event *model.MetricEvent) error {
		stats.Add(event.EventType, 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay metric events for campaign %s: %w", campaignID, err)
	}

	if s.cache != nil {
		if err := s.cache.Replace(ctx, campaignID, stats); err != nil {
			return nil, fmt.Errorf("replace cached stats for campaign %s: %w", campaignID, err)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "campaign stats rebuilt",
			"campaign_id", campaignID,
			"sent", stats.Sent,
			"delivered", stats.Delivered,
		)
	}

	return stats, nil
}
