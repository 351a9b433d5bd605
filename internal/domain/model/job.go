// Package model defines the core data types and structures used throughout the outreach delivery engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a delivery job.
type JobStatus string

const (
	// JobStatusPending indicates a job is in the ready set, waiting for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusScheduled indicates a job is in the delayed set; the sweep promotes it once due.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusInFlight indicates a job is leased by a worker.
	JobStatusInFlight JobStatus = "in_flight"
	// JobStatusRetrying indicates a job failed transiently and is waiting out its backoff.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusSucceeded indicates the provider accepted the message. Terminal.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusDead indicates the job will never be retried automatically. Terminal.
	JobStatusDead JobStatus = "dead"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusScheduled, JobStatusInFlight,
		JobStatusRetrying, JobStatusSucceeded, JobStatusDead:
		return true
	}
	return false
}

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusDead
}

// FailureKind classifies the last delivery failure recorded on a job.
type FailureKind string

const (
	// FailureKindTransient covers provider timeouts and 5xx responses; retried with backoff.
	FailureKindTransient FailureKind = "transient"
	// FailureKindPermanent covers invalid addresses and hard bounces; dead immediately.
	FailureKindPermanent FailureKind = "permanent"
	// FailureKindThrottled covers provider-reported throttling; rescheduled without consuming an attempt.
	FailureKindThrottled FailureKind = "throttled"
	// FailureKindCancelled marks a sequence step suppressed by a stop condition.
	FailureKindCancelled FailureKind = "cancelled"
	// FailureKindExpired marks a job dead-lettered by the reaper after sitting pending too long.
	FailureKindExpired FailureKind = "expired"
)

// Valid returns true if the FailureKind is valid.
func (k FailureKind) Valid() bool {
	switch k {
	case FailureKindTransient, FailureKindPermanent, FailureKindThrottled,
		FailureKindCancelled, FailureKindExpired:
		return true
	}
	return false
}

// ErrNoJobsReady is returned when the ready set has no dispatchable jobs.
var ErrNoJobsReady = errors.New("no jobs ready")

// DeliveryJob is the atomic unit of outbound work: one message to one recipient.
type DeliveryJob struct {
	ID                 string      `json:"id"                             db:"id"`
	CampaignID         string      `json:"campaign_id"                    db:"campaign_id"`
	RecipientID        string      `json:"recipient_id"                   db:"recipient_id"`
	Address            string      `json:"address"                        db:"address"`
	TemplateID         string      `json:"template_id"                    db:"template_id"`
	Subject            string      `json:"subject,omitempty"              db:"subject"`
	Priority           int         `json:"priority"                       db:"priority"`
	Status             JobStatus   `json:"status"                         db:"status"`
	AttemptCount       int         `json:"attempt_count"                  db:"attempt_count"`
	MaxAttempts        int         `json:"max_attempts"                   db:"max_attempts"`
	NotBefore          time.Time   `json:"not_before"                     db:"not_before"`
	SequenceInstanceID *string     `json:"sequence_instance_id,omitempty" db:"sequence_instance_id"`
	StepIndex          *int        `json:"step_index,omitempty"           db:"step_index"`
	IsTest             bool        `json:"is_test"                        db:"is_test"`
	LastFailure        FailureKind `json:"last_failure,omitempty"         db:"last_failure"`
	LastError          *string     `json:"last_error,omitempty"           db:"last_error"`
	LeaseExpiresAt     *time.Time  `json:"lease_expires_at,omitempty"     db:"lease_expires_at"`
	TerminalAt         *time.Time  `json:"terminal_at,omitempty"          db:"terminal_at"`
	CreatedAt          time.Time   `json:"created_at"                     db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"                     db:"updated_at"`
}

// SequenceJob reports whether this job was produced by the sequence engine.
func (j *DeliveryJob) SequenceJob() bool {
	return j.SequenceInstanceID != nil && j.StepIndex != nil
}

// EnqueueRequest describes a delivery job to be placed on the queue.
type EnqueueRequest struct {
	CampaignID         string     `json:"campaign_id"`
	RecipientID        string     `json:"recipient_id"`
	Address            string     `json:"address"`
	TemplateID         string     `json:"template_id"`
	Subject            string     `json:"subject,omitempty"`
	Priority           int        `json:"priority"`
	MaxAttempts        int        `json:"max_attempts"`
	NotBefore          *time.Time `json:"not_before,omitempty"`
	SequenceInstanceID *string    `json:"sequence_instance_id,omitempty"`
	StepIndex          *int       `json:"step_index,omitempty"`
	IsTest             bool       `json:"is_test,omitempty"`
}

// Validate validates the EnqueueRequest fields.
func (r *EnqueueRequest) Validate() error {
	if r.CampaignID == "" {
		return errors.New("campaign id is required")
	}
	if r.RecipientID == "" {
		return errors.New("recipient id is required")
	}
	if strings.TrimSpace(r.Address) == "" {
		return errors.New("recipient address is required")
	}
	if r.TemplateID == "" {
		return errors.New("template id is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if (r.SequenceInstanceID == nil) != (r.StepIndex == nil) {
		return errors.New("sequence instance id and step index must be set together")
	}
	if r.StepIndex != nil && *r.StepIndex < 0 {
		return fmt.Errorf("step index must be >= 0, got %d", *r.StepIndex)
	}
	return nil
}

// AckOutcome describes how a worker resolved a leased job.
type AckOutcome struct {
	Success bool
	Failure FailureKind
	Err     string
	// RetryAfter overrides the backoff delay for throttled jobs; zero means the
	// queue picks its own delay.
	RetryAfter time.Duration
}

// AckSuccess builds the outcome for a provider-accepted dispatch.
func AckSuccess() AckOutcome {
	return AckOutcome{Success: true}
}

// AckFailure builds the outcome for a failed dispatch of the given kind.
func AckFailure(kind FailureKind, err string) AckOutcome {
	return AckOutcome{Failure: kind, Err: err}
}

// QueueStats represents per-status counts of delivery jobs.
type QueueStats struct {
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	InFlight  int `json:"in_flight"`
	Retrying  int `json:"retrying"`
	Succeeded int `json:"succeeded"`
	Dead      int `json:"dead"`
}

// Depth returns the number of jobs that still require work.
func (s QueueStats) Depth() int {
	return s.Pending + s.Scheduled + s.InFlight + s.Retrying
}
