// Package ratelimit enforces the nested per-second, per-hour, and per-day
// delivery ceilings shared by all workers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
)

// Window names a ceiling granularity for deny reporting.
type Window string

const (
	WindowSecond Window = "second"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Ceilings holds the maximum number of grants per window.
type Ceilings struct {
	PerSecond int
	PerHour   int
	PerDay    int
}

// Validate checks all ceilings are positive.
func (c Ceilings) Validate() error {
	if c.PerSecond <= 0 || c.PerHour <= 0 || c.PerDay <= 0 {
		return errors.New("all rate ceilings must be positive")
	}
	return nil
}

// Decision is the outcome of one TryAcquire call.
type Decision struct {
	Granted bool
	// DeniedBy names the window that rejected the acquire; empty when granted.
	DeniedBy Window
	// RetryAfter is the time until the denying window rolls over.
	RetryAfter time.Duration
}

// LimiterOptions groups dependencies for Limiter.
type LimiterOptions struct {
	Ceilings Ceilings
	// Store persists the hour and day counters so ceilings survive a
	// crash-restart within the current window.
	Store        core.BudgetRepository
	TimeProvider data.TimeProvider
	// Location anchors the hour and day window boundaries, so the day
	// ceiling resets at the campaign owner's midnight. Defaults to UTC.
	Location *time.Location
}

// Limiter is the single point of serialized mutation for delivery rate
// budgets. The per-second window lives in memory behind the mutex; the hour
// and day windows are consumed atomically through the store. A denied acquire
// consumes nothing from any window.
type Limiter struct {
	mu sync.Mutex

	ceilings Ceilings
	store    core.BudgetRepository
	clock    data.TimeProvider
	loc      *time.Location

	secondWindow time.Time
	secondCount  int
}

// NewLimiter constructs a Limiter.
func NewLimiter(opts LimiterOptions) (*Limiter, error) {
	if err := opts.Ceilings.Validate(); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("budget store is required")
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Limiter{
		ceilings: opts.Ceilings,
		store:    opts.Store,
		clock:    clock,
		loc:      loc,
	}, nil
}

// MustNewLimiter constructs a Limiter and panics on error.
func MustNewLimiter(opts LimiterOptions) *Limiter {
	l, err := NewLimiter(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create rate limiter: %v", err))
	}
	return l
}

// TryAcquire requests one delivery grant. The second ceiling is checked
// first; only then are the hour and day counters consumed as a pair, so a
// denial at any level leaves every counter untouched.
func (l *Limiter) TryAcquire(ctx context.Context) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().UTC()
	l.rollSecondWindow(now)

	if l.secondCount >= l.ceilings.PerSecond {
		return Decision{
			DeniedBy:   WindowSecond,
			RetryAfter: l.secondWindow.Add(time.Second).Sub(now),
		}, nil
	}

	hourWindow, dayWindow := l.windows(now)

	granted, err := l.store.TryConsumePair(ctx, core.ConsumeWindowParams{
		HourWindow: hourWindow,
		DayWindow:  dayWindow,
		HourLimit:  l.ceilings.PerHour,
		DayLimit:   l.ceilings.PerDay,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("consume rate budget: %w", err)
	}
	if !granted {
		return l.denialDecision(ctx, now, hourWindow, dayWindow)
	}

	l.secondCount++
	return Decision{Granted: true}, nil
}

func (l *Limiter) rollSecondWindow(now time.Time) {
	window := now.Truncate(time.Second)
	if !window.Equal(l.secondWindow) {
		l.secondWindow = window
		l.secondCount = 0
	}
}

// windows computes the hour and day boundaries in the configured
// location, so a half-hour-offset zone still resets at its own
// midnight and top of hour.
func (l *Limiter) windows(now time.Time) (hour, day time.Time) {
	local := now.In(l.loc)
	hour = time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, l.loc)
	day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
	return hour, day
}

// denialDecision asks the store which persisted window is full to compute the
// wait until its boundary. The hour window is checked first since it rolls
// over sooner.
func (l *Limiter) denialDecision(ctx context.Context, now, hourWindow, dayWindow time.Time) (Decision, error) {
	hour, day, err := l.store.Counts(ctx, hourWindow, dayWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("read rate budget counts: %w", err)
	}

	switch {
	case hour >= l.ceilings.PerHour:
		return Decision{
			DeniedBy:   WindowHour,
			RetryAfter: hourWindow.Add(time.Hour).Sub(now),
		}, nil
	case day >= l.ceilings.PerDay:
		return Decision{
			DeniedBy:   WindowDay,
			RetryAfter: dayWindow.AddDate(0, 0, 1).Sub(now),
		}, nil
	default:
		// The full window was reset between the consume attempt and
		// this read, so a prompt retry can succeed.
		return Decision{
			DeniedBy:   WindowHour,
			RetryAfter: time.Second,
		}, nil
	}
}

// Remaining reports how many grants the day window still allows. Campaign
// launches use it to bound audience resolution.
func (l *Limiter) Remaining(ctx context.Context) (int, error) {
	hourWindow, dayWindow := l.windows(l.clock.Now().UTC())

	_, day, err := l.store.Counts(ctx, hourWindow, dayWindow)
	if err != nil {
		return 0, fmt.Errorf("read rate budget counts: %w", err)
	}

	remaining := l.ceilings.PerDay - day
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Ceilings returns the configured ceilings.
func (l *Limiter) Ceilings() Ceilings {
	return l.ceilings
}

// ResetWindow zeroes the persisted counters for a window and, when the window
// covers the current second, the in-memory second counter too. Resetting an
// already reset window is a no-op.
func (l *Limiter) ResetWindow(ctx context.Context, window time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Reset(ctx, window.UTC()); err != nil {
		return fmt.Errorf("reset rate budget window: %w", err)
	}
	if !window.UTC().After(l.secondWindow) {
		l.secondCount = 0
	}
	return nil
}
