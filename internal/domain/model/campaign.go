package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PriorityTier buckets campaigns into coarse dispatch priorities.
type PriorityTier string

const (
	// TierUrgent is reserved for time-critical launches (closing solicitations).
	TierUrgent PriorityTier = "urgent"
	// TierStandard is the default tier for routine campaigns.
	TierStandard PriorityTier = "standard"
	// TierBulk is for backfill and nurture traffic that may wait behind everything else.
	TierBulk PriorityTier = "bulk"
)

// Valid returns true if the PriorityTier is valid.
func (t PriorityTier) Valid() bool {
	return t == TierUrgent || t == TierStandard || t == TierBulk
}

// JobPriority maps the tier onto the queue's numeric priority scale.
func (t PriorityTier) JobPriority() int {
	switch t {
	case TierUrgent:
		return 90
	case TierStandard:
		return 50
	case TierBulk:
		return 10
	default:
		return 0
	}
}

// Campaign identifies a single launch targeting a resolved audience with one template.
// Immutable once launched except for aggregate status fields.
type Campaign struct {
	ID         string       `json:"id"          db:"id"`
	Name       string       `json:"name"        db:"name"`
	SegmentKey string       `json:"segment_key" db:"segment_key"`
	TemplateID string       `json:"template_id" db:"template_id"`
	Tier       PriorityTier `json:"tier"        db:"tier"`
	IsTest     bool         `json:"is_test"     db:"is_test"`
	CreatedAt  time.Time    `json:"created_at"  db:"created_at"`
}

// LaunchStatus summarizes the synchronous outcome of a campaign launch.
type LaunchStatus string

const (
	// LaunchStatusQueued indicates jobs were enqueued.
	LaunchStatusQueued LaunchStatus = "queued"
	// LaunchStatusCapacityExhausted indicates the daily ceiling left no room; nothing was enqueued.
	LaunchStatusCapacityExhausted LaunchStatus = "capacity_exhausted"
	// LaunchStatusEmptySegment indicates the segment resolved to zero eligible recipients.
	LaunchStatusEmptySegment LaunchStatus = "empty_segment"
)

// LaunchRequest carries the operational launch surface: segment, template, tier, and bounds.
type LaunchRequest struct {
	CampaignID     string       `json:"campaign_id"`
	Name           string       `json:"name"`
	SegmentKey     string       `json:"segment_key"`
	TemplateID     string       `json:"template_id"`
	Tier           PriorityTier `json:"tier"`
	RecipientLimit int          `json:"recipient_limit,omitempty"`
	IsTest         bool         `json:"is_test,omitempty"`
}

// Validate surfaces configuration errors synchronously, before any job is built.
func (r *LaunchRequest) Validate() error {
	if r.CampaignID == "" {
		return errors.New("campaign id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("campaign name is required")
	}
	if r.SegmentKey == "" {
		return errors.New("segment key is required")
	}
	if r.TemplateID == "" {
		return errors.New("template id is required")
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("invalid priority tier: %q", r.Tier)
	}
	if r.RecipientLimit < 0 {
		return errors.New("recipient limit must be >= 0")
	}
	return nil
}

// LaunchResult is everything a launch caller learns synchronously; all delivery
// outcomes are observable only through the stats query.
type LaunchResult struct {
	Status               LaunchStatus `json:"status"`
	Queued               int          `json:"queued"`
	Skipped              int          `json:"skipped"`
	Suppressed           int          `json:"suppressed"`
	EstimatedConversions float64      `json:"estimated_conversions"`
}
