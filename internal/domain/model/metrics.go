package model

import (
	"errors"
	"time"
)

// EventType classifies a delivery lifecycle observation.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
	EventClaimed      EventType = "claimed"
	EventConverted    EventType = "converted"
)

// Valid returns true if the EventType is a known lifecycle event.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked, EventBounced,
		EventComplained, EventUnsubscribed, EventClaimed, EventConverted:
		return true
	}
	return false
}

// MetricEvent is one append-only observation about a job attempt. The durable
// event store is authoritative; cached counters can always be rebuilt from it.
type MetricEvent struct {
	ID          int64     `json:"id"           db:"id"`
	CampaignID  string    `json:"campaign_id"  db:"campaign_id"`
	JobID       string    `json:"job_id"       db:"job_id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	Attempt     int       `json:"attempt"      db:"attempt"`
	EventType   EventType `json:"event_type"   db:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"  db:"occurred_at"`
}

// Validate checks required fields and the event type.
func (e *MetricEvent) Validate() error {
	if e.CampaignID == "" {
		return errors.New("metric event campaign id is required")
	}
	if e.JobID == "" {
		return errors.New("metric event job id is required")
	}
	if !e.EventType.Valid() {
		return errors.New("metric event type is not valid")
	}
	return nil
}

// CampaignStats holds per-campaign counters plus derived rates. Every rate is
// 0 when its denominator is 0.
type CampaignStats struct {
	CampaignID   string `json:"campaign_id"`
	Sent         int64  `json:"sent"`
	Delivered    int64  `json:"delivered"`
	Opened       int64  `json:"opened"`
	Clicked      int64  `json:"clicked"`
	Bounced      int64  `json:"bounced"`
	Complained   int64  `json:"complained"`
	Unsubscribed int64  `json:"unsubscribed"`
	Claimed      int64  `json:"claimed"`
	Converted    int64  `json:"converted"`
}

// Count returns the counter for the given event type.
func (s *CampaignStats) Count(t EventType) int64 {
	switch t {
	case EventSent:
		return s.Sent
	case EventDelivered:
		return s.Delivered
	case EventOpened:
		return s.Opened
	case EventClicked:
		return s.Clicked
	case EventBounced:
		return s.Bounced
	case EventComplained:
		return s.Complained
	case EventUnsubscribed:
		return s.Unsubscribed
	case EventClaimed:
		return s.Claimed
	case EventConverted:
		return s.Converted
	}
	return 0
}

// Add increments the counter for the given event type by delta.
func (s *CampaignStats) Add(t EventType, delta int64) {
	switch t {
	case EventSent:
		s.Sent += delta
	case EventDelivered:
		s.Delivered += delta
	case EventOpened:
		s.Opened += delta
	case EventClicked:
		s.Clicked += delta
	case EventBounced:
		s.Bounced += delta
	case EventComplained:
		s.Complained += delta
	case EventUnsubscribed:
		s.Unsubscribed += delta
	case EventClaimed:
		s.Claimed += delta
	case EventConverted:
		s.Converted += delta
	}
}

func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// DeliveryRate is delivered / sent.
func (s *CampaignStats) DeliveryRate() float64 { return rate(s.Delivered, s.Sent) }

// OpenRate is opened / delivered.
func (s *CampaignStats) OpenRate() float64 { return rate(s.Opened, s.Delivered) }

// ClickRate is clicked / opened.
func (s *CampaignStats) ClickRate() float64 { return rate(s.Clicked, s.Opened) }

// BounceRate is bounced / sent.
func (s *CampaignStats) BounceRate() float64 { return rate(s.Bounced, s.Sent) }

// ClaimRate is claimed / sent.
func (s *CampaignStats) ClaimRate() float64 { return rate(s.Claimed, s.Sent) }

// ConversionRate is converted / claimed.
func (s *CampaignStats) ConversionRate() float64 { return rate(s.Converted, s.Claimed) }
