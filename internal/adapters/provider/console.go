// Package provider bundles delivery provider implementations and the
// factory that picks one from configuration.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/core"
)

// Console logs every message instead of delivering it. The development and
// test-mode provider.
type Console struct {
	logger *slog.Logger
}

// NewConsole creates a console provider.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger.With("component", "console_provider")}
}

// Send logs the message and reports it as sent.
func (p *Console) Send(ctx context.Context, req core.SendRequest) (*core.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "delivering message",
		"address", req.Address,
		"subject", req.Content.Subject,
		"body", req.Content.Body,
		"campaign_id", req.Tags["campaign_id"],
		"job_id", req.Tags["job_id"],
	)
	return &core.SendResult{
		Status:            core.SendStatusSent,
		ProviderMessageID: uuid.NewString(),
	}, nil
}

// New builds the delivery provider named by the configuration.
func New(cfg config.ProviderConfig, logger *slog.Logger) (core.DeliveryProvider, error) {
	switch cfg.Name {
	case "console", "":
		return NewConsole(logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery provider %q", cfg.Name)
	}
}
