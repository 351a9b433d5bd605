package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/procurely/outreach/internal/domain/model"
)

// DirectoryRepo stores the supplier/buyer directory records that segment
// filters evaluate against, plus the per-recipient actions that back
// sequence stop conditions.
type DirectoryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDirectoryRepo creates a new DirectoryRepo with the given database connection.
func NewDirectoryRepo(db *sql.DB, tp TimeProvider) *DirectoryRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &DirectoryRepo{DB: db, timeProvider: tp}
}

// Upsert inserts or replaces a directory record.
func (r *DirectoryRepo) Upsert(ctx context.Context, rec *model.Recipient) error {
	if rec == nil {
		return errors.New("recipient is required")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate recipient: %w", err)
	}

	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO directory_records(id, address, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET address = EXCLUDED.address,
		    attributes = EXCLUDED.attributes,
		    updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.Address, attrs, now); err != nil {
		return fmt.Errorf("upsert directory record: %w", err)
	}
	return nil
}

// ListRecords returns all directory records as segment-filter candidates.
// A limit <= 0 means no limit.
func (r *DirectoryRepo) ListRecords(ctx context.Context, limit int) ([]*model.Recipient, error) {
	query := `SELECT id, address, attributes FROM directory_records ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list directory records: %w", err)
	}
	defer rows.Close()

	var recs []*model.Recipient
	for rows.Next() {
		var rec model.Recipient
		var attrs []byte
		if err := rows.Scan(&rec.ID, &rec.Address, &attrs); err != nil {
			return nil, fmt.Errorf("scan directory record: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal attributes for %s: %w", rec.ID, err)
			}
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory records: %w", err)
	}
	return recs, nil
}

// GetRecord fetches one directory record by id.
func (r *DirectoryRepo) GetRecord(ctx context.Context, id string) (*model.Recipient, error) {
	var rec model.Recipient
	var attrs []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, address, attributes FROM directory_records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Address, &attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("directory record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get directory record: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes for %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// RecordAction notes that the recipient completed the named action.
// Idempotent: recording the same action twice keeps the first timestamp.
func (r *DirectoryRepo) RecordAction(ctx context.Context, recipientID, action string) error {
	if recipientID == "" || action == "" {
		return errors.New("recipient id and action are required")
	}

	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO recipient_actions(recipient_id, action, occurred_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient_id, action) DO NOTHING
	`, recipientID, action, r.timeProvider.Now().UTC()); err != nil {
		return fmt.Errorf("record recipient action: %w", err)
	}
	return nil
}

// HasCompletedAction reports whether the recipient has completed the named
// action. Implements the stop-condition state query.
func (r *DirectoryRepo) HasCompletedAction(ctx context.Context, recipientID, actionName string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM recipient_actions
			WHERE recipient_id = $1 AND action = $2
		)
	`, recipientID, actionName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recipient action: %w", err)
	}
	return exists, nil
}
