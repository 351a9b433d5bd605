package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/procurely/outreach/internal/data/pgxutil"
	"github.com/procurely/outreach/internal/domain/model"
)

// SuppressionRepo tracks recipients removed from all future outreach.
type SuppressionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSuppressionRepo creates a new SuppressionRepo with the given database connection.
func NewSuppressionRepo(db *sql.DB, tp TimeProvider) *SuppressionRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SuppressionRepo{DB: db, timeProvider: tp}
}

// Add records a suppression. Idempotent: suppressing an already suppressed
// recipient keeps the original reason.
func (r *SuppressionRepo) Add(ctx context.Context, sup *model.Suppression) error {
	if sup == nil {
		return errors.New("suppression is required")
	}
	if sup.RecipientID == "" {
		return errors.New("suppression recipient id is required")
	}

	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO suppressions(recipient_id, address, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipient_id) DO NOTHING
	`, sup.RecipientID, sup.Address, sup.Reason, r.timeProvider.Now().UTC()); err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

// IsSuppressed reports whether the recipient is on the suppression list.
func (r *SuppressionRepo) IsSuppressed(ctx context.Context, recipientID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM suppressions WHERE recipient_id = $1)
	`, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// FilterSuppressed returns the subset of ids that are suppressed.
func (r *SuppressionRepo) FilterSuppressed(ctx context.Context, recipientIDs []string) (map[string]bool, error) {
	suppressed := make(map[string]bool, len(recipientIDs))
	if len(recipientIDs) == 0 {
		return suppressed, nil
	}

	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT recipient_id FROM suppressions WHERE recipient_id = ANY($1)
		`, recipientIDs)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				return scanErr
			}
			suppressed[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("filter suppressed recipients: %w", err)
	}
	return suppressed, nil
}
