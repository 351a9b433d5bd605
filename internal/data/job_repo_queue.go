package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data/pgxutil"
	"github.com/procurely/outreach/internal/domain/model"
)

// jobAddedChannel is the LISTEN/NOTIFY channel signalled whenever a job enters
// the ready set.
const jobAddedChannel = "delivery_job_added"

// nonTerminalStatuses is the predicate of the partial unique index guarding
// duplicate (campaign, recipient, step) jobs. Keep in sync with the schema.
const nonTerminalStatuses = `('pending', 'scheduled', 'in_flight', 'retrying')`

// insertJobSQL skips requests that collide with an existing non-terminal job
// for the same campaign, recipient, and step.
const insertJobSQL = `
  INSERT INTO delivery_jobs(
    campaign_id, recipient_id, address, template_id, subject, priority,
    status, max_attempts, not_before, sequence_instance_id, step_index, is_test
  )
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
  ON CONFLICT (campaign_id, recipient_id, (COALESCE(step_index, -1)))
    WHERE status IN ` + nonTerminalStatuses + `
    DO NOTHING
  RETURNING ` + deliveryJobColumns

// SQL used by ReserveNext to atomically reserve the highest-priority due job,
// ties broken FIFO by arrival.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM delivery_jobs
    WHERE status = 'pending' AND not_before <= $1 AND priority >= $2
    ORDER BY priority DESC, not_before ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE delivery_jobs j
  SET
    status = 'in_flight',
    lease_expires_at = $3,
    updated_at = $4
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + deliveryJobColumns

func (r *JobRepo) maxAttempts(req *model.EnqueueRequest) int {
	if req.MaxAttempts > 0 {
		return req.MaxAttempts
	}
	// Test jobs get no retries so a dry run cannot loop against a provider.
	if req.IsTest {
		return 1
	}
	return r.cfg.DefaultMaxAttempts
}

func (r *JobRepo) insertArgs(req *model.EnqueueRequest, status model.JobStatus, notBefore time.Time) []any {
	var subject sql.NullString
	if req.Subject != "" {
		subject = sql.NullString{String: req.Subject, Valid: true}
	}
	return []any{
		req.CampaignID,
		req.RecipientID,
		req.Address,
		req.TemplateID,
		subject,
		req.Priority,
		status,
		r.maxAttempts(req),
		notBefore.UTC(),
		req.SequenceInstanceID,
		req.StepIndex,
		req.IsTest,
	}
}

func insertJobInTx(ctx context.Context, tx pgx.Tx, args []any) (*model.DeliveryJob, error) {
	rows, err := tx.Query(ctx, insertJobSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("insert delivery job: %w", err)
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if errors.Is(collectErr, pgx.ErrNoRows) {
		// Conflict with an existing non-terminal job; nothing inserted.
		return nil, nil
	}
	if collectErr != nil {
		return nil, fmt.Errorf("collect delivery job: %w", collectErr)
	}
	return job, nil
}

func notifyJobAdded(ctx context.Context, tx pgx.Tx, jobID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, jobID); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// Enqueue places a job in the ready set, or in the delayed set when the
// request carries a future NotBefore. Returns nil when an existing
// non-terminal job for the same (campaign, recipient, step) absorbed it.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.DeliveryJob, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now()
	status := model.JobStatusPending
	notBefore := now
	if req.NotBefore != nil && req.NotBefore.After(now) {
		status = model.JobStatusScheduled
		notBefore = *req.NotBefore
	}

	var job *model.DeliveryJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = insertJobInTx(ctx, tx, r.insertArgs(req, status, notBefore))
			if insertErr != nil || job == nil {
				return insertErr
			}
			if status == model.JobStatusPending {
				return notifyJobAdded(ctx, tx, job.ID)
			}
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// EnqueueBatch inserts the requests in the given order within one transaction.
// Requests absorbed by an existing non-terminal job are skipped; the returned
// slice holds only the jobs actually created.
func (r *JobRepo) EnqueueBatch(ctx context.Context, reqs []*model.EnqueueRequest) ([]*model.DeliveryJob, error) {
	for i, req := range reqs {
		if req == nil {
			return nil, fmt.Errorf("enqueue request %d is nil", i)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("enqueue request %d: %w", i, err)
		}
	}

	now := r.timeProvider.Now()
	var jobs []*model.DeliveryJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			for _, req := range reqs {
				job, insertErr := insertJobInTx(ctx, tx, r.insertArgs(req, model.JobStatusPending, now))
				if insertErr != nil {
					return insertErr
				}
				if job != nil {
					jobs = append(jobs, job)
				}
			}
			if len(jobs) == 0 {
				return nil
			}
			// One wakeup for the batch; workers drain the ready set themselves.
			return notifyJobAdded(ctx, tx, jobs[0].ID)
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return jobs, nil
}

// Schedule places a job in the delayed set with the given due time. The
// promotion sweep moves it to the ready set once due.
func (r *JobRepo) Schedule(ctx context.Context, req *model.EnqueueRequest, dueAt time.Time) (*model.DeliveryJob, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var job *model.DeliveryJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = insertJobInTx(ctx, tx, r.insertArgs(req, model.JobStatusScheduled, dueAt))
			return insertErr
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// ReserveNext leases the next dispatchable job. Expired leases are requeued
// first so a crashed worker's jobs are not stranded.
func (r *JobRepo) ReserveNext(ctx context.Context, opts core.ReserveOptions) (*model.DeliveryJob, error) {
	if opts.LeaseSeconds <= 0 {
		return nil, errors.New("lease seconds must be positive")
	}

	if _, err := r.RequeueExpiredLeases(ctx, requeueBatchSize); err != nil {
		return nil, fmt.Errorf("requeue expired leases: %w", err)
	}

	var job *model.DeliveryJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(opts.LeaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				currentTime.UTC(),
				opts.MinPriority,
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsReady
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsReady) {
			return nil, model.ErrNoJobsReady
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on an in-flight job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE delivery_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'in_flight'
	`, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

const ackSuccessSQL = `
	UPDATE delivery_jobs
	SET status = 'succeeded',
	    terminal_at = $2,
	    updated_at = $2,
	    lease_expires_at = NULL,
	    last_failure = NULL,
	    last_error = NULL
	WHERE id = $1 AND status = 'in_flight'
	RETURNING ` + deliveryJobColumns

// ackThrottledSQL reschedules without touching attempt_count: a throttled
// dispatch never consumed an attempt.
const ackThrottledSQL = `
	UPDATE delivery_jobs
	SET status = 'scheduled',
	    not_before = $2,
	    last_failure = 'throttled',
	    last_error = $3,
	    lease_expires_at = NULL,
	    updated_at = $4
	WHERE id = $1 AND status = 'in_flight'
	RETURNING ` + deliveryJobColumns

const ackDeadSQL = `
	UPDATE delivery_jobs
	SET status = 'dead',
	    terminal_at = $2,
	    last_failure = $3,
	    last_error = $4,
	    lease_expires_at = NULL,
	    updated_at = $2
	WHERE id = $1 AND status = 'in_flight'
	RETURNING ` + deliveryJobColumns

// ackTransientSQL increments the attempt count and either dead-letters the job
// or returns it to the delayed set with exponential backoff plus jitter.
const ackTransientSQL = `
	UPDATE delivery_jobs
	SET attempt_count = attempt_count + 1,
	    last_failure = 'transient',
	    last_error = $2,
	    lease_expires_at = NULL,
	    status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'dead' ELSE 'retrying' END,
	    terminal_at = CASE WHEN attempt_count + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
	    not_before = CASE WHEN attempt_count + 1 >= max_attempts THEN not_before
	                      ELSE $3::timestamptz + make_interval(secs =>
	                        LEAST($4::float8 * power(2, attempt_count), $5::float8) + random() * $6::float8)
	                 END,
	    updated_at = $3
	WHERE id = $1 AND status = 'in_flight'
	RETURNING ` + deliveryJobColumns

// backoffJitterFraction bounds the random spread added on top of the capped
// exponential delay.
const backoffJitterFraction = 0.25

// Ack resolves a leased job according to the outcome. Only in-flight jobs can
// be acked; a stale ack after lease expiry reports ErrJobNotFound.
func (r *JobRepo) Ack(ctx context.Context, jobID string, outcome model.AckOutcome) (*model.DeliveryJob, error) {
	currentTime := r.timeProvider.Now().UTC()

	var row *sql.Row
	switch {
	case outcome.Success:
		row = r.DB.QueryRowContext(ctx, ackSuccessSQL, jobID, currentTime)
	case outcome.Failure == model.FailureKindThrottled:
		delay := r.cfg.ThrottleDelay
		if outcome.RetryAfter > 0 {
			delay = outcome.RetryAfter
		}
		row = r.DB.QueryRowContext(ctx, ackThrottledSQL,
			jobID, currentTime.Add(delay), nullableErr(outcome.Err), currentTime)
	case outcome.Failure == model.FailureKindPermanent || outcome.Failure == model.FailureKindCancelled:
		row = r.DB.QueryRowContext(ctx, ackDeadSQL,
			jobID, currentTime, outcome.Failure, nullableErr(outcome.Err))
	case outcome.Failure == model.FailureKindTransient:
		base := r.cfg.RetryBaseDelay.Seconds()
		maxDelay := r.cfg.RetryMaxDelay.Seconds()
		row = r.DB.QueryRowContext(ctx, ackTransientSQL,
			jobID, nullableErr(outcome.Err), currentTime, base, maxDelay, base*backoffJitterFraction)
	default:
		return nil, fmt.Errorf("invalid ack outcome: %+v", outcome)
	}

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ack job: %w", err)
	}
	return job, nil
}

func nullableErr(msg string) sql.NullString {
	if msg == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: msg, Valid: true}
}

// PromoteDue moves due jobs from the delayed set into the ready set and
// notifies waiting workers. Returns the number promoted.
func (r *JobRepo) PromoteDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}

	var promoted int
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()
			tag, execErr := tx.Exec(ctx, `
				UPDATE delivery_jobs
				SET status = 'pending', updated_at = $1
				WHERE id IN (
					SELECT id FROM delivery_jobs
					WHERE status IN ('scheduled', 'retrying')
					  AND not_before <= $1
					ORDER BY not_before ASC
					LIMIT $2
					FOR UPDATE SKIP LOCKED
				)
			`, currentTime, limit)
			if execErr != nil {
				return fmt.Errorf("promote due jobs: %w", execErr)
			}
			promoted = int(tag.RowsAffected())
			if promoted == 0 {
				return nil
			}
			return notifyJobAdded(ctx, tx, "")
		},
	})
	if err != nil {
		return 0, err
	}
	return promoted, nil
}

// CancelPending dead-letters all not-yet-leased jobs of a sequence instance.
// In-flight jobs complete on their own; the worker re-checks the instance at
// dispatch time anyway.
func (r *JobRepo) CancelPending(ctx context.Context, sequenceInstanceID string) (int, error) {
	if sequenceInstanceID == "" {
		return 0, errors.New("sequence instance id is required")
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE delivery_jobs
		SET status = 'dead',
		    last_failure = 'cancelled',
		    terminal_at = $2,
		    updated_at = $2
		WHERE sequence_instance_id = $1
		  AND status IN ('pending', 'scheduled', 'retrying')
	`, sequenceInstanceID, currentTime)
	if err != nil {
		return 0, fmt.Errorf("cancel pending sequence jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// Stats returns per-status counts of delivery jobs.
func (r *JobRepo) Stats(ctx context.Context) (*model.QueueStats, error) {
	var s model.QueueStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'scheduled') AS scheduled,
    count(*) FILTER (WHERE status = 'in_flight') AS in_flight,
    count(*) FILTER (WHERE status = 'retrying')  AS retrying,
    count(*) FILTER (WHERE status = 'succeeded') AS succeeded,
    count(*) FILTER (WHERE status = 'dead')      AS dead
  FROM delivery_jobs
  `).Scan(
		&s.Pending,
		&s.Scheduled,
		&s.InFlight,
		&s.Retrying,
		&s.Succeeded,
		&s.Dead,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &s, nil
}

// CountAdmittedSince counts non-test jobs admitted to the queue since the
// cutoff, excluding sequence steps cancelled before dispatch.
func (r *JobRepo) CountAdmittedSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM delivery_jobs
		WHERE is_test = false
		  AND created_at >= $1
		  AND (last_failure IS NULL OR last_failure <> 'cancelled')
	`, cutoff.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admitted jobs: %w", err)
	}
	return count, nil
}

// HasNonTerminal reports whether a non-terminal job exists for the
// (campaign, recipient) pair.
func (r *JobRepo) HasNonTerminal(ctx context.Context, campaignID, recipientID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM delivery_jobs
			WHERE campaign_id = $1
			  AND recipient_id = $2
			  AND status IN `+nonTerminalStatuses+`
		)
	`, campaignID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check non-terminal job: %w", err)
	}
	return exists, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs
// entered the ready set.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{jobAddedChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobAddedChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a delivery job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.DeliveryJob, error) {
	var job *model.DeliveryJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+deliveryJobColumns+`
			FROM delivery_jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		job, qerr = collectJobFromRows(rows)
		return qerr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}
