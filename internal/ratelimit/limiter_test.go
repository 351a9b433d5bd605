package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurely/outreach/internal/core"
	"github.com/procurely/outreach/internal/data"
)

// memoryBudgetStore is an in-memory BudgetRepository with the same
// both-or-none consume semantics as the postgres implementation.
type memoryBudgetStore struct {
	mu       sync.Mutex
	hour     map[time.Time]int
	day      map[time.Time]int
	errOut   error
	denyNext bool
}

func newMemoryBudgetStore() *memoryBudgetStore {
	return &memoryBudgetStore{
		hour: make(map[time.Time]int),
		day:  make(map[time.Time]int),
	}
}

func (s *memoryBudgetStore) TryConsumePair(_ context.Context, params core.ConsumeWindowParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errOut != nil {
		return false, s.errOut
	}
	if s.denyNext {
		s.denyNext = false
		return false, nil
	}
	if s.hour[params.HourWindow] >= params.HourLimit || s.day[params.DayWindow] >= params.DayLimit {
		return false, nil
	}
	s.hour[params.HourWindow]++
	s.day[params.DayWindow]++
	return true, nil
}

func (s *memoryBudgetStore) Counts(_ context.Context, hourWindow, dayWindow time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errOut != nil {
		return 0, 0, s.errOut
	}
	return s.hour[hourWindow], s.day[dayWindow], nil
}

func (s *memoryBudgetStore) Reset(_ context.Context, window time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hour, window)
	delete(s.day, window)
	return nil
}

func (s *memoryBudgetStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for w := range s.hour {
		if w.Before(cutoff) {
			delete(s.hour, w)
			deleted++
		}
	}
	for w := range s.day {
		if w.Before(cutoff) {
			delete(s.day, w)
			deleted++
		}
	}
	return deleted, nil
}

func testLimiter(t *testing.T, ceilings Ceilings) (*Limiter, *memoryBudgetStore, *data.FixedTimeProvider) {
	t.Helper()

	store := newMemoryBudgetStore()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, err := NewLimiter(LimiterOptions{
		Ceilings:     ceilings,
		Store:        store,
		TimeProvider: clock,
	})
	require.NoError(t, err)
	return limiter, store, clock
}

func TestNewLimiter_Validation(t *testing.T) {
	t.Parallel()

	store := newMemoryBudgetStore()

	_, err := NewLimiter(LimiterOptions{
		Ceilings: Ceilings{PerSecond: 0, PerHour: 10, PerDay: 100},
		Store:    store,
	})
	assert.Error(t, err)

	_, err = NewLimiter(LimiterOptions{
		Ceilings: Ceilings{PerSecond: 1, PerHour: 10, PerDay: 100},
	})
	assert.Error(t, err)
}

func TestLimiter_SecondCeiling(t *testing.T) {
	t.Parallel()

	limiter, store, clock := testLimiter(t, Ceilings{PerSecond: 2, PerHour: 100, PerDay: 1000})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, decision.Granted)
	}

	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, WindowSecond, decision.DeniedBy)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Second)

	// A second-level denial must not touch the persisted counters.
	hour, day, err := store.Counts(ctx, clock.Now().Truncate(time.Hour), clock.Now().Truncate(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, hour)
	assert.Equal(t, 2, day)

	// The window rolls over and grants resume.
	clock.AddTime(time.Second)
	decision, err = limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestLimiter_HourCeiling(t *testing.T) {
	t.Parallel()

	limiter, store, clock := testLimiter(t, Ceilings{PerSecond: 10, PerHour: 3, PerDay: 1000})
	ctx := context.Background()

	granted := 0
	for i := 0; i < 5; i++ {
		decision, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		if decision.Granted {
			granted++
			continue
		}
		assert.Equal(t, WindowHour, decision.DeniedBy)
		assert.Greater(t, decision.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, decision.RetryAfter, time.Hour)
	}
	assert.Equal(t, 3, granted)

	// Denials consumed nothing beyond the ceiling.
	hour, _, err := store.Counts(ctx, clock.Now().Truncate(time.Hour), clock.Now().Truncate(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, hour)

	clock.AddTime(time.Hour)
	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestLimiter_DayCeiling(t *testing.T) {
	t.Parallel()

	limiter, _, clock := testLimiter(t, Ceilings{PerSecond: 10, PerHour: 10, PerDay: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		decision, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		require.True(t, decision.Granted)
		clock.AddTime(time.Second)
	}

	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, WindowDay, decision.DeniedBy)
	assert.LessOrEqual(t, decision.RetryAfter, 24*time.Hour)

	// Even a new hour stays denied until the day rolls over.
	clock.AddTime(time.Hour)
	decision, err = limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, WindowDay, decision.DeniedBy)
}

func TestLimiter_StoreErrorDoesNotConsume(t *testing.T) {
	t.Parallel()

	limiter, store, _ := testLimiter(t, Ceilings{PerSecond: 2, PerHour: 10, PerDay: 100})
	ctx := context.Background()

	store.errOut = errors.New("connection refused")
	_, err := limiter.TryAcquire(ctx)
	assert.Error(t, err)

	// The failed acquire must not have used up the second window.
	store.errOut = nil
	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, decision.Granted)
	}
}

func TestLimiter_Remaining(t *testing.T) {
	t.Parallel()

	limiter, _, clock := testLimiter(t, Ceilings{PerSecond: 10, PerHour: 10, PerDay: 5})
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for i := 0; i < 3; i++ {
		_, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		clock.AddTime(time.Second)
	}

	remaining, err = limiter.Remaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestLimiter_ResetWindow(t *testing.T) {
	t.Parallel()

	limiter, _, clock := testLimiter(t, Ceilings{PerSecond: 10, PerHour: 2, PerDay: 100})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.TryAcquire(ctx)
		require.NoError(t, err)
		require.True(t, decision.Granted)
	}

	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, decision.Granted)

	hourWindow := clock.Now().Truncate(time.Hour)
	require.NoError(t, limiter.ResetWindow(ctx, hourWindow))
	// Resetting twice changes nothing.
	require.NoError(t, limiter.ResetWindow(ctx, hourWindow))

	decision, err = limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestLimiter_WindowBoundariesFollowLocation(t *testing.T) {
	t.Parallel()

	// A half-hour-offset zone catches day boundaries computed off UTC.
	zone := time.FixedZone("UTC+0530", 5*3600+1800)
	store := newMemoryBudgetStore()
	clock := data.NewFixedTimeProvider(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC))

	limiter, err := NewLimiter(LimiterOptions{
		Ceilings:     Ceilings{PerSecond: 10, PerHour: 10, PerDay: 1},
		Store:        store,
		TimeProvider: clock,
		Location:     zone,
	})
	require.NoError(t, err)
	ctx := context.Background()

	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	decision, err = limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, WindowDay, decision.DeniedBy)
	// 01:00 UTC is 06:30 local, so local midnight is 17h30m away.
	assert.Equal(t, 17*time.Hour+30*time.Minute, decision.RetryAfter)

	// Crossing local midnight frees the day window.
	clock.AddTime(17*time.Hour + 30*time.Minute)
	decision, err = limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestLimiter_ConcurrentAcquiresRespectSecondCeiling(t *testing.T) {
	t.Parallel()

	limiter, store, clock := testLimiter(t, Ceilings{PerSecond: 5, PerHour: 100, PerDay: 100})
	ctx := context.Background()

	// 12 workers race for the same second; the ceiling admits exactly 5.
	acquireAll := func(workers int) int64 {
		var granted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				decision, err := limiter.TryAcquire(ctx)
				assert.NoError(t, err)
				if decision.Granted {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		return granted.Load()
	}

	require.EqualValues(t, 5, acquireAll(12))

	clock.AddTime(time.Second)
	require.EqualValues(t, 5, acquireAll(7))

	clock.AddTime(time.Second)
	require.EqualValues(t, 2, acquireAll(2))

	// Every grant consumed exactly one unit of the persisted windows.
	hourWindow, dayWindow := limiter.windows(clock.Now())
	hour, day, err := store.Counts(ctx, hourWindow, dayWindow)
	require.NoError(t, err)
	assert.Equal(t, 12, hour)
	assert.Equal(t, 12, day)
}

func TestLimiter_DenialWithFreshCountsRetriesSoon(t *testing.T) {
	t.Parallel()

	limiter, store, _ := testLimiter(t, Ceilings{PerSecond: 10, PerHour: 10, PerDay: 10})
	ctx := context.Background()

	// The consume attempt loses a race with a window reset: the store
	// denies, but by the time counts are read neither window is full.
	store.mu.Lock()
	store.denyNext = true
	store.mu.Unlock()

	decision, err := limiter.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Equal(t, WindowHour, decision.DeniedBy)
	assert.Equal(t, time.Second, decision.RetryAfter)
}
