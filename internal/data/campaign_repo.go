package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procurely/outreach/internal/domain/model"
)

// CampaignRepo provides database operations for campaign records.
type CampaignRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewCampaignRepo creates a new CampaignRepo with the given database connection.
func NewCampaignRepo(db *sql.DB, tp TimeProvider) *CampaignRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &CampaignRepo{DB: db, timeProvider: tp}
}

const campaignColumns = `id, name, segment_key, template_id, tier, is_test, created_at`

func scanCampaign(scanner jobRowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := scanner.Scan(
		&c.ID,
		&c.Name,
		&c.SegmentKey,
		&c.TemplateID,
		&c.Tier,
		&c.IsTest,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a campaign record. Returns ErrCampaignExists when the id is
// already taken.
func (r *CampaignRepo) Create(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error) {
	if campaign == nil {
		return nil, errors.New("campaign is required")
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO campaigns(id, name, segment_key, template_id, tier, is_test, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+campaignColumns+`
	`,
		campaign.ID,
		campaign.Name,
		campaign.SegmentKey,
		campaign.TemplateID,
		campaign.Tier,
		campaign.IsTest,
		r.timeProvider.Now().UTC(),
	)

	created, err := scanCampaign(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrCampaignExists
		}
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return created, nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id)

	campaign, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return campaign, nil
}

// List returns campaigns ordered by creation time descending.
func (r *CampaignRepo) List(ctx context.Context, limit, offset int) ([]*model.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var campaigns []*model.Campaign
	for rows.Next() {
		campaign, scanErr := scanCampaign(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan campaign: %w", scanErr)
		}
		campaigns = append(campaigns, campaign)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return campaigns, nil
}
