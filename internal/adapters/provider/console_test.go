package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurely/outreach/config"
	"github.com/procurely/outreach/internal/core"
)

func TestConsole_Send(t *testing.T) {
	p := NewConsole(nil)

	result, err := p.Send(context.Background(), core.SendRequest{
		Address: "vendor@example.com",
		Content: &core.RenderedContent{Subject: "Hello", Body: "World"},
		Tags:    map[string]string{"campaign_id": "camp-1", "job_id": "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.SendStatusSent, result.Status)
	assert.NotEmpty(t, result.ProviderMessageID)
}

func TestConsole_Send_CancelledContext(t *testing.T) {
	p := NewConsole(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, core.SendRequest{
		Address: "vendor@example.com",
		Content: &core.RenderedContent{},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	p, err := New(config.ProviderConfig{Name: "console"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Console{}, p)

	_, err = New(config.ProviderConfig{Name: "carrier-pigeon"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
