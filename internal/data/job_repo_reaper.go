package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data/pgxutil"
)

// Advisory lock namespace for queue hygiene operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockReaperMajor     = 1000
	advisoryLockReaperRequeue   = 1 // minor key for RequeueExpiredLeases
	advisoryLockReaperExpire    = 2 // minor key for ExpireStalePendingJobs
	advisoryLockReaperDeleteOld = 3 // minor key for DeleteOldTerminalJobs
)

const requeueBatchSize = 500

func (r *JobRepo) withReaperLock(ctx context.Context, minorKey int, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minorKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}
			ra, fnErr := fn(tx)
			if fnErr != nil {
				return fnErr
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// RequeueExpiredLeases returns in-flight jobs with expired leases to the ready
// set. A worker that crashed mid-dispatch loses its lease and the job is
// re-dispatched, preserving at-least-once delivery.
func (r *JobRepo) RequeueExpiredLeases(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = requeueBatchSize
	}

	return r.withReaperLock(ctx, advisoryLockReaperRequeue, func(tx *sql.Tx) (int64, error) {
		currentTime := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE delivery_jobs
			SET status = 'pending',
			    lease_expires_at = NULL,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM delivery_jobs
				WHERE status = 'in_flight'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
				ORDER BY lease_expires_at
				LIMIT $2
			)
		`, currentTime, batchSize)
		if err != nil {
			return 0, fmt.Errorf("requeue expired leases: %w", err)
		}
		return res.RowsAffected()
	})
}

// ExpireStalePendingJobs dead-letters pending jobs older than MaxAge.
// Processes up to BatchSize jobs per call to prevent long locks and I/O spikes.
func (r *JobRepo) ExpireStalePendingJobs(ctx context.Context, params core.ReapStaleJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperExpire, func(tx *sql.Tx) (int64, error) {
		currentTime := r.timeProvider.Now()
		cutoffTime := currentTime.Add(-params.MaxAge)

		res, err := tx.ExecContext(ctx, `
			UPDATE delivery_jobs
			SET status = 'dead',
			    last_failure = 'expired',
			    last_error = 'job timed out in pending status',
			    terminal_at = $1,
			    updated_at = $1
			WHERE id IN (
				SELECT id FROM delivery_jobs
				WHERE status = 'pending'
				  AND created_at < $2
				ORDER BY created_at
				LIMIT $3
			)
		`, currentTime.UTC(), cutoffTime.UTC(), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("expire stale pending jobs: %w", err)
		}
		return res.RowsAffected()
	})
}

// DeleteOldTerminalJobs deletes succeeded and dead jobs whose terminal time is
// older than MaxAge. Processes up to BatchSize rows per call.
func (r *JobRepo) DeleteOldTerminalJobs(ctx context.Context, params core.ReapStaleJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperDeleteOld, func(tx *sql.Tx) (int64, error) {
		cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()

		res, err := tx.ExecContext(ctx, `
			DELETE FROM delivery_jobs
			WHERE id IN (
				SELECT id FROM delivery_jobs
				WHERE status IN ('succeeded', 'dead')
				  AND COALESCE(terminal_at, updated_at) < $1
				ORDER BY COALESCE(terminal_at, updated_at)
				LIMIT $2
			)
		`, cutoffTime, params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old terminal jobs: %w", err)
		}
		return res.RowsAffected()
	})
}
