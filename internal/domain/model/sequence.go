package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// StopCondition is a named predicate over recipient state that halts remaining
// sequence steps. The set is closed; unknown names fail validation instead of
// being silently ignored.
type StopCondition string

const (
	// StopOnClaim fires once the recipient has claimed their directory listing.
	StopOnClaim StopCondition = "listing_claimed"
	// StopOnConversion fires once the recipient has converted to a paid plan.
	StopOnConversion StopCondition = "plan_purchased"
	// StopOnReply fires once the recipient has replied to any message in the thread.
	StopOnReply StopCondition = "replied"
	// StopOnUnsubscribe fires once the recipient has opted out of outreach.
	StopOnUnsubscribe StopCondition = "unsubscribed"
)

// Valid returns true if the StopCondition is one of the closed set.
func (c StopCondition) Valid() bool {
	return c == StopOnClaim || c == StopOnConversion || c == StopOnReply || c == StopOnUnsubscribe
}

// ActionName is the recipient-state action the condition queries.
func (c StopCondition) ActionName() string {
	return string(c)
}

// SequenceStep is one message in a drip sequence, offset in days from launch.
type SequenceStep struct {
	DayOffset  int    `json:"day_offset"`
	TemplateID string `json:"template_id"`
	Subject    string `json:"subject"`
}

// SequenceDefinition is the immutable template of a drip sequence. It carries
// no per-recipient state.
type SequenceDefinition struct {
	ID             string          `json:"id"              db:"id"`
	Name           string          `json:"name"            db:"name"`
	Steps          []SequenceStep  `json:"steps"           db:"steps"`
	StopConditions []StopCondition `json:"stop_conditions" db:"stop_conditions"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// Validate checks step ordering and the closed stop-condition set.
func (d *SequenceDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("sequence name is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("sequence must have at least one step")
	}
	if !sort.SliceIsSorted(d.Steps, func(i, j int) bool {
		return d.Steps[i].DayOffset < d.Steps[j].DayOffset
	}) {
		return errors.New("sequence steps must be ordered by ascending day offset")
	}
	for i, step := range d.Steps {
		if step.DayOffset < 0 {
			return fmt.Errorf("step %d: day offset must be >= 0", i)
		}
		if step.TemplateID == "" {
			return fmt.Errorf("step %d: template id is required", i)
		}
	}
	for _, cond := range d.StopConditions {
		if !cond.Valid() {
			return fmt.Errorf("unknown stop condition: %q", cond)
		}
	}
	return nil
}

// StepFireTimes computes each step's absolute fire time from the launch time.
func (d *SequenceDefinition) StepFireTimes(launchedAt time.Time) []time.Time {
	times := make([]time.Time, len(d.Steps))
	for i, step := range d.Steps {
		times[i] = launchedAt.Add(time.Duration(step.DayOffset) * 24 * time.Hour)
	}
	return times
}

// InstanceState tracks where a sequence instance sits in its lifecycle.
type InstanceState string

const (
	// InstanceScheduled means steps remain to fire.
	InstanceScheduled InstanceState = "scheduled"
	// InstanceCancelled means a stop condition fired; no further step produces a job.
	InstanceCancelled InstanceState = "cancelled"
	// InstanceCompleted means the final step resolved.
	InstanceCompleted InstanceState = "completed"
)

// Valid returns true if the InstanceState is valid.
func (s InstanceState) Valid() bool {
	return s == InstanceScheduled || s == InstanceCancelled || s == InstanceCompleted
}

// SequenceInstance binds a SequenceDefinition to one recipient.
//
// Invariant: once State is cancelled, no further steps of this instance produce
// sends, even for jobs already enqueued; workers re-check immediately before
// dispatch.
type SequenceInstance struct {
	ID           string        `json:"id"            db:"id"`
	DefinitionID string        `json:"definition_id" db:"definition_id"`
	CampaignID   string        `json:"campaign_id"   db:"campaign_id"`
	RecipientID  string        `json:"recipient_id"  db:"recipient_id"`
	NextStep     int           `json:"next_step"     db:"next_step"`
	State        InstanceState `json:"state"         db:"state"`
	LaunchedAt   time.Time     `json:"launched_at"   db:"launched_at"`
	UpdatedAt    time.Time     `json:"updated_at"    db:"updated_at"`
}
