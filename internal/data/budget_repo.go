package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data/pgxutil"
)

// Budget window granularities persisted in rate_budgets.
const (
	budgetGranularityHour = "hour"
	budgetGranularityDay  = "day"
)

// BudgetRepo persists hour and day rate-budget counters so delivery ceilings
// survive a crash-restart within the current window.
type BudgetRepo struct {
	DB *sql.DB
}

// NewBudgetRepo creates a new BudgetRepo with the given database connection.
func NewBudgetRepo(db *sql.DB) *BudgetRepo {
	return &BudgetRepo{DB: db}
}

// TryConsumePair atomically increments both the hour and day counters if
// neither would exceed its limit. A denial consumes nothing from either
// window. Both rows are locked in a fixed order so concurrent consumers
// cannot deadlock.
func (r *BudgetRepo) TryConsumePair(ctx context.Context, params core.ConsumeWindowParams) (bool, error) {
	var granted bool
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rate_budgets(granularity, window_start, count)
				VALUES ($1, $2, 0), ($3, $4, 0)
				ON CONFLICT (granularity, window_start) DO NOTHING
			`,
				budgetGranularityDay, params.DayWindow.UTC(),
				budgetGranularityHour, params.HourWindow.UTC(),
			); err != nil {
				return fmt.Errorf("seed budget windows: %w", err)
			}

			// Lock day before hour everywhere; granularity sorts "day" < "hour".
			rows, err := tx.QueryContext(ctx, `
				SELECT granularity, count
				FROM rate_budgets
				WHERE (granularity = $1 AND window_start = $2)
				   OR (granularity = $3 AND window_start = $4)
				ORDER BY granularity
				FOR UPDATE
			`,
				budgetGranularityDay, params.DayWindow.UTC(),
				budgetGranularityHour, params.HourWindow.UTC(),
			)
			if err != nil {
				return fmt.Errorf("lock budget windows: %w", err)
			}

			counts := map[string]int{}
			for rows.Next() {
				var granularity string
				var count int
				if scanErr := rows.Scan(&granularity, &count); scanErr != nil {
					_ = rows.Close()
					return fmt.Errorf("scan budget window: %w", scanErr)
				}
				counts[granularity] = count
			}
			if closeErr := rows.Close(); closeErr != nil {
				return fmt.Errorf("close budget rows: %w", closeErr)
			}
			if rowsErr := rows.Err(); rowsErr != nil {
				return rowsErr
			}

			if counts[budgetGranularityHour] >= params.HourLimit || counts[budgetGranularityDay] >= params.DayLimit {
				granted = false
				return nil
			}

			if _, err := tx.ExecContext(ctx, `
				UPDATE rate_budgets
				SET count = count + 1
				WHERE (granularity = $1 AND window_start = $2)
				   OR (granularity = $3 AND window_start = $4)
			`,
				budgetGranularityDay, params.DayWindow.UTC(),
				budgetGranularityHour, params.HourWindow.UTC(),
			); err != nil {
				return fmt.Errorf("consume budget windows: %w", err)
			}
			granted = true
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// Counts returns the current hour and day counts for the given windows.
// Missing rows read as zero.
func (r *BudgetRepo) Counts(ctx context.Context, hourWindow, dayWindow time.Time) (int, int, error) {
	var hour, day int
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT count FROM rate_budgets WHERE granularity = $1 AND window_start = $2), 0),
			COALESCE((SELECT count FROM rate_budgets WHERE granularity = $3 AND window_start = $4), 0)
	`,
		budgetGranularityHour, hourWindow.UTC(),
		budgetGranularityDay, dayWindow.UTC(),
	).Scan(&hour, &day)
	if err != nil {
		return 0, 0, fmt.Errorf("read budget counts: %w", err)
	}
	return hour, day, nil
}

// Reset zeroes the counters for a window. Resetting a missing or already zero
// window is a no-op.
func (r *BudgetRepo) Reset(ctx context.Context, window time.Time) error {
	if _, err := r.DB.ExecContext(ctx, `
		UPDATE rate_budgets
		SET count = 0
		WHERE window_start = $1
	`, window.UTC()); err != nil {
		return fmt.Errorf("reset budget window: %w", err)
	}
	return nil
}

// DeleteExpired drops counter rows for windows older than the cutoff.
func (r *BudgetRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM rate_budgets
		WHERE window_start < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired budget windows: %w", err)
	}
	return res.RowsAffected()
}
