package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
)

// SequenceServiceOptions groups dependencies for SequenceService.
type SequenceServiceOptions struct {
	Sequences    core.SequenceRepository // Required: definitions and instances
	Jobs         core.JobRepository      // Required: durable job queue
	State        core.RecipientStateQuery
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// SequenceService manages drip sequences: launching an instance schedules
// every step's job up front at its absolute fire time, and stop conditions
// are re-evaluated immediately before each dispatch so a recipient who
// converts between steps never receives the remainder.
type SequenceService struct {
	sequences core.SequenceRepository
	jobs      core.JobRepository
	state     core.RecipientStateQuery
	logger    *slog.Logger
	clock     data.TimeProvider
}

// NewSequenceService constructs a new SequenceService.
func NewSequenceService(opts SequenceServiceOptions) (*SequenceService, error) {
	if opts.Sequences == nil {
		return nil, errors.New("SequenceRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sequence_service")
	}

	return &SequenceService{
		sequences: opts.Sequences,
		jobs:      opts.Jobs,
		state:     opts.State,
		logger:    logger,
		clock:     clock,
	}, nil
}

// MustNewSequenceService constructs a new SequenceService and panics on error.
func MustNewSequenceService(opts SequenceServiceOptions) *SequenceService {
	svc, err := NewSequenceService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SequenceService: %v", err))
	}
	return svc
}

// CreateDefinition validates and stores a sequence definition.
func (s *SequenceService) CreateDefinition(
	ctx context.Context,
	def *model.SequenceDefinition,
) (*model.SequenceDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validate sequence definition: %w", err)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	created, err := s.sequences.CreateDefinition(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("create sequence definition: %w", err)
	}
	return created, nil
}

// GetDefinition returns a sequence definition by ID.
func (s *SequenceService) GetDefinition(ctx context.Context, id string) (*model.SequenceDefinition, error) {
	def, err := s.sequences.GetDefinition(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sequence definition %s: %w", id, err)
	}
	return def, nil
}

// LaunchInstanceRequest binds a definition to one recipient within a campaign.
type LaunchInstanceRequest struct {
	DefinitionID string
	CampaignID   string
	Recipient    *model.Recipient
	Priority     int
	IsTest       bool
}

// LaunchInstance creates a sequence instance and schedules one job per step
// at launch time plus the step's day offset. A step due now enters the ready
// set directly; later steps wait in the delayed set until promotion.
func (s *SequenceService) LaunchInstance(
	ctx context.Context,
	req LaunchInstanceRequest,
) (*model.SequenceInstance, error) {
	if req.Recipient == nil {
		return nil, errors.New("recipient is required")
	}
	if err := req.Recipient.Validate(); err != nil {
		return nil, fmt.Errorf("validate recipient: %w", err)
	}

	def, err := s.sequences.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("get sequence definition %s: %w", req.DefinitionID, err)
	}

	now := s.clock.Now().UTC()
	inst, err := s.sequences.CreateInstance(ctx, &model.SequenceInstance{
		ID:           uuid.NewString(),
		DefinitionID: def.ID,
		CampaignID:   req.CampaignID,
		RecipientID:  req.Recipient.ID,
		State:        model.InstanceScheduled,
		LaunchedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create sequence instance: %w", err)
	}

	// Schedule-time check. The dispatch-time check remains mandatory;
	// this one just avoids queueing steps for a recipient who already
	// completed the target action.
	cond, fired, err := s.firedStopCondition(ctx, def, req.Recipient.ID)
	if err != nil {
		return nil, err
	}
	if fired {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "stop condition already met at launch, cancelling sequence",
				"instance_id", inst.ID,
				"condition", cond,
			)
		}
		if err := s.Cancel(ctx, inst.ID); err != nil {
			return nil, err
		}
		inst.State = model.InstanceCancelled
		return inst, nil
	}

	fireTimes := def.StepFireTimes(now)
	for i, step := range def.Steps {
		stepIndex := i
		enqReq := &model.EnqueueRequest{
			CampaignID:         req.CampaignID,
			RecipientID:        req.Recipient.ID,
			Address:            req.Recipient.Address,
			TemplateID:         step.TemplateID,
			Subject:            step.Subject,
			Priority:           req.Priority,
			SequenceInstanceID: &inst.ID,
			StepIndex:          &stepIndex,
			IsTest:             req.IsTest,
		}

		if fireTimes[i].After(now) {
			_, err = s.jobs.Schedule(ctx, enqReq, fireTimes[i])
		} else {
			_, err = s.jobs.Enqueue(ctx, enqReq)
		}
		if err != nil {
			return nil, fmt.Errorf("schedule sequence step %d: %w", i, err)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "sequence instance launched",
			"instance_id", inst.ID,
			"definition_id", def.ID,
			"campaign_id", req.CampaignID,
			"steps", len(def.Steps),
		)
	}

	return inst, nil
}

// Cancel halts a sequence instance and dead-letters its not-yet-leased jobs.
// A step already leased by a worker completes its current attempt. Cancelling
// an already cancelled or completed instance is a no-op.
func (s *SequenceService) Cancel(ctx context.Context, instanceID string) error {
	cancelled, err := s.sequences.Cancel(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("cancel sequence instance %s: %w", instanceID, err)
	}
	if !cancelled {
		return nil
	}

	removed, err := s.jobs.CancelPending(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("cancel pending jobs for instance %s: %w", instanceID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "sequence instance cancelled",
			"instance_id", instanceID,
			"jobs_cancelled", removed,
		)
	}
	return nil
}

// ShouldDispatch decides, immediately before a send, whether a sequence job
// may proceed. It re-checks the instance state and evaluates every stop
// condition against current recipient state; a fired condition cancels the
// whole instance.
func (s *SequenceService) ShouldDispatch(ctx context.Context, job *model.DeliveryJob) (bool, error) {
	if !job.SequenceJob() {
		return true, nil
	}

	inst, err := s.sequences.GetInstance(ctx, *job.SequenceInstanceID)
	if err != nil {
		return false, fmt.Errorf("get sequence instance %s: %w", *job.SequenceInstanceID, err)
	}
	if inst.State != model.InstanceScheduled {
		return false, nil
	}

	if s.state == nil {
		return true, nil
	}

	def, err := s.sequences.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return false, fmt.Errorf("get sequence definition %s: %w", inst.DefinitionID, err)
	}

	cond, fired, err := s.firedStopCondition(ctx, def, inst.RecipientID)
	if err != nil {
		return false, err
	}
	if fired {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "stop condition fired, cancelling sequence",
				"instance_id", inst.ID,
				"condition", cond,
			)
		}
		if err := s.Cancel(ctx, inst.ID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// firedStopCondition evaluates the definition's stop conditions against
// current recipient state and returns the first one that holds.
func (s *SequenceService) firedStopCondition(
	ctx context.Context,
	def *model.SequenceDefinition,
	recipientID string,
) (model.StopCondition, bool, error) {
	if s.state == nil {
		return "", false, nil
	}
	for _, cond := range def.StopConditions {
		fired, err := s.state.HasCompletedAction(ctx, recipientID, cond.ActionName())
		if err != nil {
			return "", false, fmt.Errorf("evaluate stop condition %s: %w", cond, err)
		}
		if fired {
			return cond, true, nil
		}
	}
	return "", false, nil
}

// StepResolved records that a step's job reached a terminal state and
// advances the instance, marking it completed past the final step.
func (s *SequenceService) StepResolved(ctx context.Context, job *model.DeliveryJob) error {
	if !job.SequenceJob() {
		return nil
	}

	inst, err := s.sequences.AdvanceStep(ctx, *job.SequenceInstanceID, *job.StepIndex)
	if err != nil {
		return fmt.Errorf("advance sequence instance %s: %w", *job.SequenceInstanceID, err)
	}

	if s.logger != nil && inst.State == model.InstanceCompleted {
		s.logger.InfoContext(ctx, "sequence instance completed", "instance_id", inst.ID)
	}
	return nil
}

// GetInstance returns a sequence instance by ID.
func (s *SequenceService) GetInstance(ctx context.Context, id string) (*model.SequenceInstance, error) {
	inst, err := s.sequences.GetInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sequence instance %s: %w", id, err)
	}
	return inst, nil
}
