package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/procurely/outreach/internal/data"
	"github.com/procurely/outreach/internal/domain/model"
	"github.com/procurely/outreach/internal/service"
)

func runCreateSequence(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("create-sequence", flag.ContinueOnError)
	file := fs.String("file", "", "path to a JSON sequence definition (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read definition file: %w", err)
	}
	var def model.SequenceDefinition
	if err = json.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("parse definition file: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, false)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	created, err := env.Services.Sequences.CreateDefinition(ctx, &def)
	if err != nil {
		return fmt.Errorf("create sequence definition: %w", err)
	}

	cmdCtx.Logger.Info("sequence definition created",
		"definition_id", created.ID,
		"name", created.Name,
		"steps", len(created.Steps),
	)
	return nil
}

type launchSequenceOptions struct {
	DefinitionID string
	CampaignID   string
	RecipientID  string
	Address      string
	Priority     int
	IsTest       bool
}

func parseLaunchSequenceFlags(args []string) (launchSequenceOptions, error) {
	var opts launchSequenceOptions
	fs := flag.NewFlagSet("launch-sequence", flag.ContinueOnError)
	fs.StringVar(&opts.DefinitionID, "definition", "", "sequence definition identifier (required)")
	fs.StringVar(&opts.CampaignID, "campaign", "", "campaign identifier (required)")
	fs.StringVar(&opts.RecipientID, "recipient", "", "recipient identifier (required)")
	fs.StringVar(&opts.Address, "address", "", "delivery address; defaults to the directory record")
	fs.IntVar(&opts.Priority, "priority", model.TierStandard.JobPriority(), "job priority for each step")
	fs.BoolVar(&opts.IsTest, "test", false, "mark the enrollment as a test")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.DefinitionID == "" || opts.CampaignID == "" || opts.RecipientID == "" {
		return opts, errors.New("-definition, -campaign, and -recipient are required")
	}
	return opts, nil
}

func runLaunchSequence(cmdCtx *commandContext, args []string) error {
	opts, err := parseLaunchSequenceFlags(args)
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

	recipient, err := resolveRecipient(ctx, env, opts)
	if err != nil {
		return err
	}

	inst, err := env.Services.Sequences.LaunchInstance(ctx, service.LaunchInstanceRequest{
		DefinitionID: opts.DefinitionID,
		CampaignID:   opts.CampaignID,
		Recipient:    recipient,
		Priority:     opts.Priority,
		IsTest:       opts.IsTest,
	})
	if err != nil {
		return fmt.Errorf("launch sequence instance: %w", err)
	}

	cmdCtx.Logger.Info("sequence instance launched",
		"instance_id", inst.ID,
		"definition_id", inst.DefinitionID,
		"recipient_id", inst.RecipientID,
	)
	return nil
}

// resolveRecipient prefers the directory record so step templates can render
// recipient attributes; an explicit -address builds an ad-hoc recipient.
func resolveRecipient(
	ctx context.Context,
	env *adminEnv,
	opts launchSequenceOptions,
) (*model.Recipient, error) {
	rec, err := env.Services.Directory.GetRecord(ctx, opts.RecipientID)
	if err == nil {
		if opts.Address != "" {
			rec.Address = opts.Address
		}
		return rec, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, fmt.Errorf("look up recipient %q: %w", opts.RecipientID, err)
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("recipient %q is not in the directory; pass -address to enroll anyway", opts.RecipientID)
	}
	return &model.Recipient{ID: opts.RecipientID, Address: opts.Address}, nil
}

func runCancelSequence(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("cancel-sequence", flag.ContinueOnError)
	instanceID := fs.String("instance", "", "sequence instance identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instanceID == "" {
		return errors.New("-instance is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	env, err := openAdminEnv(cmdCtx, false)
	if err != nil {
		return err
	}
	defer env.Close(cmdCtx.Logger)

	if err = env.Services.Sequences.Cancel(ctx, *instanceID); err != nil {
		return fmt.Errorf("cancel sequence instance: %w", err)
	}

	cmdCtx.Logger.Info("sequence instance cancelled", "instance_id", *instanceID)
	return nil
}
