package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/procurely/outreach/internal/domain/model"
)

type launchOptions struct {
	CampaignID string
	Name       string
	SegmentKey string
	TemplateID string
	Tier       string
	Limit      int
	IsTest     bool
}

func parseLaunchFlags(args []string) (launchOptions, error) {
	var opts launchOptions
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	fs.StringVar(&opts.CampaignID, "campaign", "", "campaign identifier (required)")
	fs.StringVar(&opts.Name, "name", "", "campaign display name (required)")
	fs.StringVar(&opts.SegmentKey, "segment", "", "recipient segment key (required)")
	fs.StringVar(&opts.TemplateID, "template", "", "message template identifier (required)")
	fs.StringVar(&opts.Tier, "tier", string(model.TierStandard), "priority tier: urgent, standard, or bulk")
	fs.IntVar(&opts.Limit, "limit", 0, "cap on recipients admitted by this launch (0 = unlimited)")
	fs.BoolVar(&opts.IsTest, "test", false, "mark the campaign as a test campaign")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func runLaunch(cmdCtx *commandContext, args []string) error {
	opts, err := parseLaunchFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, false)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	result, err := env.Services.Campaigns.Launch(ctx, &model.LaunchRequest{
		CampaignID:     opts.CampaignID,
		Name:           opts.Name,
		SegmentKey:     opts.SegmentKey,
		TemplateID:     opts.TemplateID,
		Tier:           model.PriorityTier(opts.Tier),
		RecipientLimit: opts.Limit,
		IsTest:         opts.IsTest,
	})
	if err != nil {
		return fmt.Errorf("launch campaign: %w", err)
	}

	cmdCtx.Logger.Info("campaign launch complete",
		"campaign_id", opts.CampaignID,
		"status", result.Status,
		"queued", result.Queued,
		"skipped", result.Skipped,
		"suppressed", result.Suppressed,
	)
	return nil
}

func runStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	campaignID := fs.String("campaign", "", "campaign identifier (required)")
	rawJSON := fs.Bool("json", false, "emit raw JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *campaignID == "" {
		return errors.New("-campaign is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, true)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	stats, err := env.Services.Stats.GetStats(ctx, *campaignID)
	if err != nil {
		return fmt.Errorf("get campaign stats: %w", err)
	}

	if *rawJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	return renderCampaignStats(stats)
}

func renderCampaignStats(stats *model.CampaignStats) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []struct {
		label string
		value int64
	}{
		{"sent", stats.Sent},
		{"delivered", stats.Delivered},
		{"opened", stats.Opened},
		{"clicked", stats.Clicked},
		{"bounced", stats.Bounced},
		{"complained", stats.Complained},
		{"unsubscribed", stats.Unsubscribed},
		{"claimed", stats.Claimed},
		{"converted", stats.Converted},
	}
	if err := writef(w, "campaign\t%s\n", stats.CampaignID); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%d\n", row.label, row.value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runRebuildStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("rebuild-stats", flag.ContinueOnError)
	campaignID := fs.String("campaign", "", "campaign identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *campaignID == "" {
		return errors.New("-campaign is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, true)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	stats, err := env.Services.Stats.Rebuild(ctx, *campaignID)
	if err != nil {
		return fmt.Errorf("rebuild campaign stats: %w", err)
	}

	cmdCtx.Logger.Info("stats cache rebuilt", "campaign_id", *campaignID)
	return renderCampaignStats(stats)
}

func runSeedDirectory(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seed-directory", flag.ContinueOnError)
	file := fs.String("file", "", "path to a JSON array of recipient records (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read recipients file: %w", err)
	}
	var recipients []*model.Recipient
	if err = json.Unmarshal(raw, &recipients); err != nil {
		return fmt.Errorf("parse recipients file: %w", err)
	}
	if len(recipients) == 0 {
		return errors.New("recipients file contains no records")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, false)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	upserted := 0
	for _, rec := range recipients {
		if upsertErr := env.Services.Directory.Upsert(ctx, rec); upsertErr != nil {
			return fmt.Errorf("upsert recipient %q: %w", rec.ID, upsertErr)
		}
		upserted++
	}

	cmdCtx.Logger.Info("directory seed complete", "recipients", upserted)
	return nil
}
