package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
)

const defaultDailyCeiling = 50000

// CampaignServiceOptions groups dependencies for CampaignService.
type CampaignServiceOptions struct {
	Campaigns    core.CampaignRepository // Required: campaign metadata store
	Jobs         core.JobRepository      // Required: durable job queue
	Audience     core.AudienceResolver   // Required: segment resolution
	Suppressions core.SuppressionRepository
	Renderer     core.TemplateRenderer // Optional: probe-renders the template at launch
	DailyCeiling int                   // Optional: defaults to 50000
	Location     *time.Location        // Optional: day boundary timezone, defaults to UTC
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// CampaignService orchestrates campaign launches. A launch is the only write
// path that fans one request out into many queued jobs, so all admission
// control lives here: synchronous config validation, the daily capacity bound,
// suppression filtering, and duplicate-recipient skips.
type CampaignService struct {
	campaigns    core.CampaignRepository
	jobs         core.JobRepository
	audience     core.AudienceResolver
	suppressions core.SuppressionRepository
	renderer     core.TemplateRenderer
	dailyCeiling int
	loc          *time.Location
	logger       *slog.Logger
	clock        data.TimeProvider
}

// NewCampaignService constructs a new CampaignService.
func NewCampaignService(opts CampaignServiceOptions) (*CampaignService, error) {
	if opts.Campaigns == nil {
		return nil, errors.New("CampaignRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Audience == nil {
		return nil, errors.New("AudienceResolver is required")
	}

	ceiling := opts.DailyCeiling
	if ceiling <= 0 {
		ceiling = defaultDailyCeiling
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "campaign_service")
	}

	return &CampaignService{
		campaigns:    opts.Campaigns,
		jobs:         opts.Jobs,
		audience:     opts.Audience,
		suppressions: opts.Suppressions,
		renderer:     opts.Renderer,
		dailyCeiling: ceiling,
		loc:          loc,
		logger:       logger,
		clock:        clock,
	}, nil
}

// MustNewCampaignService constructs a new CampaignService and panics on error.
func MustNewCampaignService(opts CampaignServiceOptions) *CampaignService {
	svc, err := NewCampaignService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create CampaignService: %v", err))
	}
	return svc
}

// Launch resolves the campaign's segment and enqueues one delivery job per
// eligible recipient, bounded by today's remaining capacity. Configuration
// errors fail here, before any job exists; everything after enqueue is
// observable only through stats.
//
// Launch is idempotent per recipient: re-launching the same campaign skips
// recipients that already have a non-terminal job and enqueues only the
// missing remainder.
func (s *CampaignService) Launch(ctx context.Context, req *model.LaunchRequest) (*model.LaunchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate launch request: %w", err)
	}

	desc, err := model.SegmentByKey(model.SegmentKey(req.SegmentKey))
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}

	capacity, err := s.remainingCapacity(ctx)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "campaign launch rejected, daily capacity exhausted",
				"campaign_id", req.CampaignID,
				"daily_ceiling", s.dailyCeiling,
			)
		}
		return &model.LaunchResult{Status: model.LaunchStatusCapacityExhausted}, nil
	}

	recipients, err := s.audience.ResolveSegment(ctx, desc, req.RecipientLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve audience for segment %s: %w", desc.Key, err)
	}
	if len(recipients) == 0 {
		return &model.LaunchResult{Status: model.LaunchStatusEmptySegment}, nil
	}

	// Probe-render against the first recipient so a broken template fails the
	// launch instead of dead-lettering the whole audience.
	if s.renderer != nil {
		if _, err := s.renderer.Render(ctx, req.TemplateID, recipients[0].Attributes); err != nil {
			return nil, fmt.Errorf("template %s failed validation: %w", req.TemplateID, err)
		}
	}

	if err := s.ensureCampaign(ctx, req); err != nil {
		return nil, err
	}

	eligible, suppressed, skipped, err := s.filterRecipients(ctx, req.CampaignID, recipients)
	if err != nil {
		return nil, err
	}
	if len(eligible) > capacity {
		skipped += len(eligible) - capacity
		eligible = eligible[:capacity]
	}
	if len(eligible) == 0 {
		return &model.LaunchResult{
			Status:     model.LaunchStatusEmptySegment,
			Suppressed: suppressed,
			Skipped:    skipped,
		}, nil
	}

	reqs := make([]*model.EnqueueRequest, 0, len(eligible))
	for _, recipient := range eligible {
		reqs = append(reqs, &model.EnqueueRequest{
			CampaignID:  req.CampaignID,
			RecipientID: recipient.ID,
			Address:     recipient.Address,
			TemplateID:  req.TemplateID,
			Priority:    req.Tier.JobPriority(),
			IsTest:      req.IsTest,
		})
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].Priority > reqs[j].Priority
	})

	created, err := s.jobs.EnqueueBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("enqueue campaign batch: %w", err)
	}
	skipped += len(reqs) - len(created)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "campaign launched",
			"campaign_id", req.CampaignID,
			"segment", desc.Key,
			"queued", len(created),
			"suppressed", suppressed,
			"skipped", skipped,
		)
	}

	return &model.LaunchResult{
		Status:               model.LaunchStatusQueued,
		Queued:               len(created),
		Suppressed:           suppressed,
		Skipped:              skipped,
		EstimatedConversions: float64(len(created)) * desc.ExpectedConversionRate,
	}, nil
}

// remainingCapacity computes how many jobs today's ceiling still admits.
// The day starts at midnight in the configured location.
func (s *CampaignService) remainingCapacity(ctx context.Context) (int, error) {
	local := s.clock.Now().In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	admitted, err := s.jobs.CountAdmittedSince(ctx, midnight)
	if err != nil {
		return 0, fmt.Errorf("count jobs admitted today: %w", err)
	}
	return s.dailyCeiling - admitted, nil
}

// ensureCampaign persists the campaign row, tolerating re-launches of an
// existing campaign.
func (s *CampaignService) ensureCampaign(ctx context.Context, req *model.LaunchRequest) error {
	_, err := s.campaigns.Create(ctx, &model.Campaign{
		ID:         req.CampaignID,
		Name:       req.Name,
		SegmentKey: req.SegmentKey,
		TemplateID: req.TemplateID,
		Tier:       req.Tier,
		IsTest:     req.IsTest,
	})
	if err != nil && !errors.Is(err, data.ErrCampaignExists) {
		return fmt.Errorf("create campaign %s: %w", req.CampaignID, err)
	}
	return nil
}

// filterRecipients drops suppressed recipients and recipients that already
// have a non-terminal job for this campaign.
func (s *CampaignService) filterRecipients(
	ctx context.Context,
	campaignID string,
	recipients []*model.Recipient,
) (eligible []*model.Recipient, suppressed, skipped int, err error) {
	suppressedSet := map[string]bool{}
	if s.suppressions != nil {
		ids := make([]string, len(recipients))
		for i, r := range recipients {
			ids[i] = r.ID
		}
		suppressedSet, err = s.suppressions.FilterSuppressed(ctx, ids)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("filter suppressed recipients: %w", err)
		}
	}

	eligible = make([]*model.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		if suppressedSet[recipient.ID] {
			suppressed++
			continue
		}
		exists, err := s.jobs.HasNonTerminal(ctx, campaignID, recipient.ID)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("check existing job for recipient %s: %w", recipient.ID, err)
		}
		if exists {
			skipped++
			continue
		}
		eligible = append(eligible, recipient)
	}
	return eligible, suppressed, skipped, nil
}

// GetByID returns campaign metadata.
func (s *CampaignService) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign %s: %w", id, err)
	}
	return campaign, nil
}

// List returns recent campaigns.
func (s *CampaignService) List(ctx context.Context, limit, offset int) ([]*model.Campaign, error) {
	campaigns, err := s.campaigns.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}
