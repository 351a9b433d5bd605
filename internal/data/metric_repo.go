package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurely/outreach/internal/domain/model"
)

// MetricRepo provides database operations for the append-only metric event
// store. This store is authoritative; cached counters are rebuilt from it.
type MetricRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewMetricRepo creates a new MetricRepo with the given database connection.
func NewMetricRepo(db *sql.DB, tp TimeProvider) *MetricRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MetricRepo{DB: db, timeProvider: tp}
}

// Append stores the event. Duplicate (job, attempt, event type) triples report
// false with no error so provider webhook replays stay idempotent.
func (r *MetricRepo) Append(ctx context.Context, event *model.MetricEvent) (bool, error) {
	if event == nil {
		return false, errors.New("metric event is required")
	}
	if err := event.Validate(); err != nil {
		return false, err
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.timeProvider.Now()
	}

	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO metric_events(campaign_id, job_id, recipient_id, attempt, event_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, attempt, event_type) DO NOTHING
	`,
		event.CampaignID,
		event.JobID,
		event.RecipientID,
		event.Attempt,
		event.EventType,
		occurredAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("append metric event: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CountsByCampaign aggregates event counts for a campaign straight from the
// event store.
func (r *MetricRepo) CountsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	stats := &model.CampaignStats{CampaignID: campaignID}
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE event_type = 'sent')         AS sent,
    count(*) FILTER (WHERE event_type = 'delivered')    AS delivered,
    count(*) FILTER (WHERE event_type = 'opened')       AS opened,
    count(*) FILTER (WHERE event_type = 'clicked')      AS clicked,
    count(*) FILTER (WHERE event_type = 'bounced')      AS bounced,
    count(*) FILTER (WHERE event_type = 'complained')   AS complained,
    count(*) FILTER (WHERE event_type = 'unsubscribed') AS unsubscribed,
    count(*) FILTER (WHERE event_type = 'claimed')      AS claimed,
    count(*) FILTER (WHERE event_type = 'converted')    AS converted
  FROM metric_events
  WHERE campaign_id = $1
  `, campaignID).Scan(
		&stats.Sent,
		&stats.Delivered,
		&stats.Opened,
		&stats.Clicked,
		&stats.Bounced,
		&stats.Complained,
		&stats.Unsubscribed,
		&stats.Claimed,
		&stats.Converted,
	)
	if err != nil {
		return nil, fmt.Errorf("count metric events: %w", err)
	}
	return stats, nil
}

// Replay streams all events for a campaign in occurrence order.
func (r *MetricRepo) Replay(ctx context.Context, campaignID string, fn func(*model.MetricEvent) error) error {
	if fn == nil {
		return errors.New("replay callback is required")
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, campaign_id, job_id, recipient_id, attempt, event_type, occurred_at
		FROM metric_events
		WHERE campaign_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, campaignID)
	if err != nil {
		return fmt.Errorf("replay metric events: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	for rows.Next() {
		var event model.MetricEvent
		if scanErr := rows.Scan(
			&event.ID,
			&event.CampaignID,
			&event.JobID,
			&event.RecipientID,
			&event.Attempt,
			&event.EventType,
			&event.OccurredAt,
		); scanErr != nil {
			return fmt.Errorf("scan metric event: %w", scanErr)
		}
		if fnErr := fn(&event); fnErr != nil {
			return fnErr
		}
	}
	return rows.Err()
}
