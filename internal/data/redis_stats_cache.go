package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/procurely/outreach/internal/domain/model"
)

// statsKeyPrefix namespaces per-campaign counter hashes in Redis.
const statsKeyPrefix = "outreach:stats:"

// RedisStatsCache implements the StatsCache interface with one Redis hash per
// campaign, one field per event type. It is a cache over the authoritative
// metric event store and can be rebuilt at any time.
type RedisStatsCache struct {
	client redis.UniversalClient
}

// NewRedisStatsCache creates a new RedisStatsCache with the given Redis client.
func NewRedisStatsCache(client redis.UniversalClient) *RedisStatsCache {
	return &RedisStatsCache{client: client}
}

func statsKey(campaignID string) string {
	return statsKeyPrefix + campaignID
}

// Incr increments the counter for one event type.
func (c *RedisStatsCache) Incr(ctx context.Context, campaignID string, eventType model.EventType, delta int64) error {
	if campaignID == "" {
		return errors.New("campaign id cannot be empty")
	}
	if !eventType.Valid() {
		return fmt.Errorf("invalid event type: %q", eventType)
	}

	if err := c.client.HIncrBy(ctx, statsKey(campaignID), string(eventType), delta).Err(); err != nil {
		return fmt.Errorf("redis hincrby: %w", err)
	}
	return nil
}

// Get returns the cached counters for a campaign. The second return value is
// false when the campaign has no cached hash.
func (c *RedisStatsCache) Get(ctx context.Context, campaignID string) (*model.CampaignStats, bool, error) {
	if campaignID == "" {
		return nil, false, errors.New("campaign id cannot be empty")
	}

	fields, err := c.client.HGetAll(ctx, statsKey(campaignID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	stats := &model.CampaignStats{CampaignID: campaignID}
	for field, raw := range fields {
		count, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return nil, false, fmt.Errorf("parse cached counter %q: %w", field, parseErr)
		}
		stats.Add(model.EventType(field), count)
	}
	return stats, true, nil
}

// Replace swaps the cached counters for a campaign wholesale. Used by rebuild
// after replaying the event store.
func (c *RedisStatsCache) Replace(ctx context.Context, campaignID string, stats *model.CampaignStats) error {
	if campaignID == "" {
		return errors.New("campaign id cannot be empty")
	}
	if stats == nil {
		return errors.New("stats cannot be nil")
	}

	key := statsKey(campaignID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, eventType := range []model.EventType{
		model.EventSent, model.EventDelivered, model.EventOpened, model.EventClicked,
		model.EventBounced, model.EventComplained, model.EventUnsubscribed,
		model.EventClaimed, model.EventConverted,
	} {
		if count := stats.Count(eventType); count != 0 {
			pipe.HSet(ctx, key, string(eventType), count)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace stats: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (c *RedisStatsCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
