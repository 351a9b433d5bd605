package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr bool
	}{
		{
			name:  "single service",
			input: "dispatcher",
			want:  map[ServiceMode]bool{ServiceModeDispatcher: true},
		},
		{
			name:  "multiple services",
			input: "dispatcher,sweeper,reaper",
			want: map[ServiceMode]bool{
				ServiceModeDispatcher: true,
				ServiceModeSweeper:    true,
				ServiceModeReaper:     true,
			},
		},
		{
			name:  "whitespace tolerated",
			input: " dispatcher , sweeper ",
			want: map[ServiceMode]bool{
				ServiceModeDispatcher: true,
				ServiceModeSweeper:    true,
			},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only commas",
			input:   ",,",
			wantErr: true,
		},
		{
			name:    "unknown service",
			input:   "dispatcher,http",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseServices(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatcherConfig_Sanitize(t *testing.T) {
	t.Parallel()

	cfg := DispatcherConfig{
		Workers:     0,
		JobLease:    time.Second,
		SendTimeout: 0,
		MaxRateWait: -time.Second,
	}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.JobLease)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, 5*time.Second, cfg.MaxRateWait)
}

func TestLimiterConfig_Sanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  LimiterConfig
		want LimiterConfig
	}{
		{
			name: "valid config untouched",
			cfg:  LimiterConfig{PerSecond: 10, PerHour: 100, PerDay: 1000, Timezone: "America/Chicago"},
			want: LimiterConfig{PerSecond: 10, PerHour: 100, PerDay: 1000, Timezone: "America/Chicago"},
		},
		{
			name: "zero per second raised to one",
			cfg:  LimiterConfig{PerSecond: 0, PerHour: 100, PerDay: 1000},
			want: LimiterConfig{PerSecond: 1, PerHour: 100, PerDay: 1000, Timezone: "UTC"},
		},
		{
			name: "hour raised to second floor",
			cfg:  LimiterConfig{PerSecond: 10, PerHour: 5, PerDay: 1000},
			want: LimiterConfig{PerSecond: 10, PerHour: 10, PerDay: 1000, Timezone: "UTC"},
		},
		{
			name: "day raised to hour floor",
			cfg:  LimiterConfig{PerSecond: 10, PerHour: 100, PerDay: 50},
			want: LimiterConfig{PerSecond: 10, PerHour: 100, PerDay: 100, Timezone: "UTC"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tt.cfg
			cfg.Sanitize()
			assert.Equal(t, tt.want, cfg)
		})
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	t.Parallel()

	cfg := ReaperConfig{
		Interval:       time.Second,
		PendingMaxAge:  time.Minute,
		TerminalMaxAge: time.Minute,
		BudgetMaxAge:   time.Hour,
		BatchSize:      100000,
	}
	cfg.Sanitize()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.PendingMaxAge)
	assert.Equal(t, time.Hour, cfg.TerminalMaxAge)
	assert.Equal(t, 25*time.Hour, cfg.BudgetMaxAge)
	assert.Equal(t, 10000, cfg.BatchSize)
}

func TestProviderConfig_Sanitize(t *testing.T) {
	t.Parallel()

	cfg := ProviderConfig{Name: "  Console "}
	cfg.Sanitize()
	assert.Equal(t, "console", cfg.Name)

	cfg = ProviderConfig{}
	cfg.Sanitize()
	assert.Equal(t, "console", cfg.Name)
}

func TestAppConfig_ServiceToggles(t *testing.T) {
	t.Parallel()

	cfg := AppConfig{Services: "dispatcher,reaper"}
	assert.True(t, cfg.IsDispatcherEnabled())
	assert.False(t, cfg.IsSweeperEnabled())
	assert.True(t, cfg.IsReaperEnabled())

	bad := AppConfig{Services: "bogus"}
	assert.False(t, bad.IsDispatcherEnabled())
}
