package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// Lease bounds in whole seconds. A send attempt that holds a job for
// more than an hour is stuck, not slow, so the reaper should get it
// back regardless of what the caller asked for.
const (
	minLeaseSeconds = 1
	maxLeaseSeconds = 3600
)

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested duration was pulled into bounds.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalizes lease durations for job reservations and
// lease extensions.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default lease.
func (d LeaseDecision) UsedDefault() bool {
	return d.Source == LeaseSourceDefault
}

// Clamped reports whether the requested value was pulled into bounds.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// Resolve normalizes the requested duration to a whole number of
// seconds within lease bounds. Zero means "use the default";
// negative values are treated as the minimum lease.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	if p == nil {
		return LeaseDecision{Source: LeaseSourceDefault, Requested: request}
	}
	if request == 0 {
		seconds, _ := boundSeconds(p.defaultLease)
		return LeaseDecision{Seconds: seconds, Source: LeaseSourceDefault, Requested: request}
	}

	seconds, clamped := boundSeconds(request)
	source := LeaseSourceExplicit
	if clamped {
		source = LeaseSourceClamped
	}
	return LeaseDecision{Seconds: seconds, Source: source, Requested: request}
}

func boundSeconds(d time.Duration) (int, bool) {
	seconds := int64(d / time.Second)
	switch {
	case seconds < minLeaseSeconds:
		return minLeaseSeconds, true
	case seconds > maxLeaseSeconds:
		return maxLeaseSeconds, true
	default:
		return int(seconds), false
	}
}
