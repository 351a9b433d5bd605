package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeDispatcher runs the delivery worker pool.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeSweeper runs the delayed-job promotion sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
	// ServiceModeReaper runs the queue hygiene reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeDispatcher,
		ServiceModeSweeper,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeDispatcher, ServiceModeSweeper, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: dispatcher, sweeper, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains delivery worker pool configuration.
type DispatcherConfig struct {
	// Workers is the number of concurrent delivery workers.
	Workers int `env:"DISPATCHER_WORKERS" envDefault:"100"`

	// JobLease is the visibility timeout granted to each reserved job.
	JobLease time.Duration `env:"DISPATCHER_JOB_LEASE" envDefault:"60s"`

	// SendTimeout bounds a single provider call.
	SendTimeout time.Duration `env:"DISPATCHER_SEND_TIMEOUT" envDefault:"30s"`

	// MaxRateWait caps how long a worker sleeps on a rate denial before
	// rescheduling the job instead of holding its lease.
	MaxRateWait time.Duration `env:"DISPATCHER_MAX_RATE_WAIT" envDefault:"5s"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.JobLease < 5*time.Second {
		d.JobLease = 5 * time.Second
	}
	if d.SendTimeout <= 0 {
		d.SendTimeout = 30 * time.Second
	}
	if d.MaxRateWait <= 0 {
		d.MaxRateWait = 5 * time.Second
	}
}

// LimiterConfig contains delivery rate limiter configuration.
type LimiterConfig struct {
	// PerSecond is the maximum number of sends per second.
	PerSecond int `env:"LIMITER_PER_SECOND" envDefault:"50"`

	// PerHour is the maximum number of sends per hour.
	PerHour int `env:"LIMITER_PER_HOUR" envDefault:"10000"`

	// PerDay is the maximum number of sends per day.
	PerDay int `env:"LIMITER_PER_DAY" envDefault:"50000"`

	// Timezone is the IANA zone whose midnight and top-of-hour mark the
	// day and hour window boundaries.
	Timezone string `env:"LIMITER_TIMEZONE" envDefault:"UTC"`
}

// Location resolves the configured timezone, falling back to UTC when
// the name does not parse.
func (l *LimiterConfig) Location() *time.Location {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Sanitize applies guardrails to limiter configuration values.
func (l *LimiterConfig) Sanitize() {
	if l.PerSecond < 1 {
		l.PerSecond = 1
	}
	if l.PerHour < l.PerSecond {
		l.PerHour = l.PerSecond
	}
	if l.PerDay < l.PerHour {
		l.PerDay = l.PerHour
	}
	if strings.TrimSpace(l.Timezone) == "" {
		l.Timezone = "UTC"
	}
}

// CampaignConfig contains campaign launch configuration.
type CampaignConfig struct {
	// DailyCeiling bounds the number of jobs a day's launches may admit.
	// Defaults to the limiter's per-day ceiling when unset.
	DailyCeiling int `env:"CAMPAIGN_DAILY_CEILING" envDefault:"0"`
}

// Sanitize applies guardrails to campaign configuration values.
func (c *CampaignConfig) Sanitize() {
	if c.DailyCeiling < 0 {
		c.DailyCeiling = 0
	}
}

// SweeperConfig contains delayed-job promotion sweeper configuration.
type SweeperConfig struct {
	// Interval is the promotion tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1s"`

	// BatchSize is the maximum number of jobs promoted per tick.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < 100*time.Millisecond {
		s.Interval = 100 * time.Millisecond
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
}

// ProviderConfig contains delivery provider configuration.
type ProviderConfig struct {
	// Name selects the outbound provider adapter. Valid values: console.
	Name string `env:"PROVIDER_NAME" envDefault:"console"`
}

// Sanitize applies guardrails to provider configuration values.
func (p *ProviderConfig) Sanitize() {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = "console"
	}
}

// ReaperConfig contains queue hygiene reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are dead-lettered.
	// Jobs stuck in pending status longer than this will be expired.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"72h"`

	// TerminalMaxAge is the maximum age for succeeded and dead jobs before deletion.
	TerminalMaxAge time.Duration `env:"REAPER_TERMINAL_MAX_AGE" envDefault:"168h"` // 7 days

	// BudgetMaxAge is the maximum age for expired rate-budget windows before deletion.
	BudgetMaxAge time.Duration `env:"REAPER_BUDGET_MAX_AGE" envDefault:"48h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.TerminalMaxAge < 1*time.Hour {
		r.TerminalMaxAge = 1 * time.Hour
	}
	if r.BudgetMaxAge < 25*time.Hour {
		// A day window must survive its own span plus clock slop.
		r.BudgetMaxAge = 25 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
