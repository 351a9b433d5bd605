package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/procurely/outreach/internal/domain/model"
)

// SequenceRepo provides database operations for sequence definitions and
// per-recipient instances.
type SequenceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSequenceRepo creates a new SequenceRepo with the given database connection.
func NewSequenceRepo(db *sql.DB, tp TimeProvider) *SequenceRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &SequenceRepo{DB: db, timeProvider: tp}
}

const instanceColumns = `id, definition_id, campaign_id, recipient_id, next_step, state, launched_at, updated_at`

func scanInstance(scanner jobRowScanner) (*model.SequenceInstance, error) {
	var inst model.SequenceInstance
	err := scanner.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.CampaignID,
		&inst.RecipientID,
		&inst.NextStep,
		&inst.State,
		&inst.LaunchedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// CreateDefinition inserts a sequence definition; steps and stop conditions
// are stored as JSONB.
func (r *SequenceRepo) CreateDefinition(ctx context.Context, def *model.SequenceDefinition) (*model.SequenceDefinition, error) {
	if def == nil {
		return nil, errors.New("sequence definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal sequence steps: %w", err)
	}
	conditions, err := json.Marshal(def.StopConditions)
	if err != nil {
		return nil, fmt.Errorf("marshal stop conditions: %w", err)
	}

	created := *def
	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO sequence_definitions(name, steps, stop_conditions, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, def.Name, steps, conditions, r.timeProvider.Now().UTC()).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create sequence definition: %w", err)
	}
	return &created, nil
}

// GetDefinition retrieves a sequence definition by its ID.
func (r *SequenceRepo) GetDefinition(ctx context.Context, id string) (*model.SequenceDefinition, error) {
	var def model.SequenceDefinition
	var steps, conditions []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, name, steps, stop_conditions, created_at
		FROM sequence_definitions
		WHERE id = $1
	`, id).Scan(&def.ID, &def.Name, &steps, &conditions, &def.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence definition: %w", err)
	}

	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal sequence steps: %w", err)
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &def.StopConditions); err != nil {
			return nil, fmt.Errorf("unmarshal stop conditions: %w", err)
		}
	}
	return &def, nil
}

// CreateInstance inserts a sequence instance in the scheduled state.
func (r *SequenceRepo) CreateInstance(ctx context.Context, inst *model.SequenceInstance) (*model.SequenceInstance, error) {
	if inst == nil {
		return nil, errors.New("sequence instance is required")
	}

	launchedAt := inst.LaunchedAt
	if launchedAt.IsZero() {
		launchedAt = r.timeProvider.Now()
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO sequence_instances(definition_id, campaign_id, recipient_id, next_step, state, launched_at, updated_at)
		VALUES ($1, $2, $3, 0, 'scheduled', $4, $4)
		RETURNING `+instanceColumns+`
	`, inst.DefinitionID, inst.CampaignID, inst.RecipientID, launchedAt.UTC())

	created, err := scanInstance(row)
	if err != nil {
		return nil, fmt.Errorf("create sequence instance: %w", err)
	}
	return created, nil
}

// GetInstance retrieves a sequence instance by its ID.
func (r *SequenceRepo) GetInstance(ctx context.Context, id string) (*model.SequenceInstance, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM sequence_instances
		WHERE id = $1
	`, id)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence instance: %w", err)
	}
	return inst, nil
}

// Cancel marks a scheduled instance cancelled. Idempotent: cancelling an
// already cancelled or completed instance reports false with no error.
func (r *SequenceRepo) Cancel(ctx context.Context, instanceID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE sequence_instances
		SET state = 'cancelled',
		    updated_at = $2
		WHERE id = $1 AND state = 'scheduled'
	`, instanceID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancel sequence instance: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// AdvanceStep records that stepIndex resolved. The instance completes once the
// final step of its definition resolves. Advancing a cancelled instance or a
// stale step index leaves the instance untouched and returns its current state.
func (r *SequenceRepo) AdvanceStep(ctx context.Context, instanceID string, stepIndex int) (*model.SequenceInstance, error) {
	if stepIndex < 0 {
		return nil, errors.New("step index must be >= 0")
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE sequence_instances i
		SET next_step = $2 + 1,
		    state = CASE WHEN $2 + 1 >= jsonb_array_length(d.steps) THEN 'completed' ELSE i.state END,
		    updated_at = $3
		FROM sequence_definitions d
		WHERE i.id = $1
		  AND d.id = i.definition_id
		  AND i.state = 'scheduled'
		  AND i.next_step = $2
		RETURNING i.id, i.definition_id, i.campaign_id, i.recipient_id, i.next_step, i.state, i.launched_at, i.updated_at
	`, instanceID, stepIndex, r.timeProvider.Now().UTC())

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetInstance(ctx, instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("advance sequence step: %w", err)
	}
	return inst, nil
}
