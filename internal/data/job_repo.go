package data

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/procurely/outreach/internal/domain/model"
)

// JobRepoConfig holds configuration options for the delivery-job repository.
type JobRepoConfig struct {
	// RetryBaseDelay seeds the exponential backoff for transient failures.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff regardless of attempt count.
	RetryMaxDelay time.Duration
	// ThrottleDelay is the reschedule delay for provider-throttled jobs when
	// the ack carries no explicit retry-after.
	ThrottleDelay time.Duration
	// DefaultMaxAttempts applies when an enqueue request leaves MaxAttempts zero.
	DefaultMaxAttempts int
	Logger             *slog.Logger
	TimeProvider       TimeProvider
}

const (
	defaultRetryBaseDelay     = 30 * time.Second
	defaultRetryMaxDelay      = 30 * time.Minute
	defaultThrottleDelay      = 15 * time.Second
	defaultMaxDeliveryAttempt = 3
)

// JobRepo provides database operations for the durable delivery-job queue.
type JobRepo struct {
	DB           *sql.DB
	cfg          JobRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = defaultThrottleDelay
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = defaultMaxDeliveryAttempt
	}

	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const deliveryJobColumns = `
  id,
  campaign_id,
  recipient_id,
  address,
  template_id,
  subject,
  priority,
  status,
  attempt_count,
  max_attempts,
  not_before,
  sequence_instance_id,
  step_index,
  is_test,
  last_failure,
  last_error,
  lease_expires_at,
  terminal_at,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	subject, sequenceInstanceID, lastFailure, lastError sql.NullString
	stepIndex                                           sql.NullInt32
	leaseExpiresAt, terminalAt                          sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.DeliveryJob) error {
	return scanner.Scan(
		&job.ID,
		&job.CampaignID,
		&job.RecipientID,
		&job.Address,
		&job.TemplateID,
		&d.subject,
		&job.Priority,
		&job.Status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.NotBefore,
		&d.sequenceInstanceID,
		&d.stepIndex,
		&job.IsTest,
		&d.lastFailure,
		&d.lastError,
		&d.leaseExpiresAt,
		&d.terminalAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.DeliveryJob) {
	if d.subject.Valid {
		job.Subject = d.subject.String
	}
	job.SequenceInstanceID = cloneNullableString(d.sequenceInstanceID)
	if d.stepIndex.Valid {
		idx := int(d.stepIndex.Int32)
		job.StepIndex = &idx
	}
	if d.lastFailure.Valid {
		job.LastFailure = model.FailureKind(d.lastFailure.String)
	}
	job.LastError = cloneNullableString(d.lastError)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.TerminalAt = cloneNullableTime(d.terminalAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.DeliveryJob, error) {
	job := &model.DeliveryJob{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.DeliveryJob, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
