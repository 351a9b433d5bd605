package core

import (
	"context"
	"time"

	"github.com/procurely/outreach/internal/domain/model"
)

// This file contains repository and collaborator interface definitions (ports
// in hexagonal architecture). Service implementations should depend on these
// interfaces, not concrete implementations.

// ReserveOptions groups parameters for JobRepository.ReserveNext.
type ReserveOptions struct {
	LeaseSeconds int
	// MinPriority filters the ready set; 0 reserves anything.
	MinPriority int
}

// JobRepository defines the interface for durable delivery-job operations.
// The underlying store must provide atomic dequeue-and-lease semantics so two
// workers never receive the same job.
type JobRepository interface {
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.DeliveryJob, error)
	// EnqueueBatch inserts the batch in the given order; requests that collide
	// with an existing non-terminal (campaign, recipient, step) job are skipped.
	// Returns the jobs actually created.
	EnqueueBatch(ctx context.Context, reqs []*model.EnqueueRequest) ([]*model.DeliveryJob, error)
	// Schedule places a job in the delayed set with the given due time.
	Schedule(ctx context.Context, req *model.EnqueueRequest, dueAt time.Time) (*model.DeliveryJob, error)
	GetByID(ctx context.Context, id string) (*model.DeliveryJob, error)
	// ReserveNext leases the highest-priority due job, ties broken FIFO.
	// Returns model.ErrNoJobsReady when nothing is dispatchable.
	ReserveNext(ctx context.Context, opts ReserveOptions) (*model.DeliveryJob, error)
	// WaitForNotification blocks until a job is added or ctx is done.
	WaitForNotification(ctx context.Context) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	// Ack resolves a leased job. Success and permanent failures are terminal;
	// transient failures re-enter the delayed set with backoff; throttled
	// failures re-enter without consuming an attempt.
	Ack(ctx context.Context, jobID string, outcome model.AckOutcome) (*model.DeliveryJob, error)
	// PromoteDue moves delayed jobs whose due time has passed into the ready
	// set. Returns the number promoted.
	PromoteDue(ctx context.Context, limit int) (int, error)
	// CancelPending marks not-yet-leased jobs of a sequence instance dead with
	// failure kind cancelled. In-flight jobs are untouched.
	CancelPending(ctx context.Context, sequenceInstanceID string) (int, error)
	Stats(ctx context.Context) (*model.QueueStats, error)
	// CountAdmittedSince counts non-test, non-cancelled jobs admitted to the
	// queue since the cutoff; campaign launches use it for capacity bounds.
	CountAdmittedSince(ctx context.Context, cutoff time.Time) (int, error)
	HasNonTerminal(ctx context.Context, campaignID, recipientID string) (bool, error)
}

// ReapStaleJobsParams groups parameters for ReaperRepository calls.
type ReapStaleJobsParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for queue hygiene operations.
type ReaperRepository interface {
	// RequeueExpiredLeases returns in-flight jobs with expired leases to the
	// ready set so a crashed worker's jobs are re-dispatched.
	RequeueExpiredLeases(ctx context.Context, batchSize int) (int64, error)
	// ExpireStalePendingJobs marks pending jobs older than MaxAge dead with
	// failure kind expired. Processes up to BatchSize jobs per call.
	ExpireStalePendingJobs(ctx context.Context, params ReapStaleJobsParams) (int64, error)
	// DeleteOldTerminalJobs deletes succeeded and dead jobs whose terminal
	// time is older than MaxAge. Processes up to BatchSize rows per call.
	DeleteOldTerminalJobs(ctx context.Context, params ReapStaleJobsParams) (int64, error)
}

// CampaignRepository defines the interface for campaign data operations.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, limit, offset int) ([]*model.Campaign, error)
}

// SequenceRepository defines the interface for sequence definitions and instances.
type SequenceRepository interface {
	CreateDefinition(ctx context.Context, def *model.SequenceDefinition) (*model.SequenceDefinition, error)
	GetDefinition(ctx context.Context, id string) (*model.SequenceDefinition, error)
	CreateInstance(ctx context.Context, inst *model.SequenceInstance) (*model.SequenceInstance, error)
	GetInstance(ctx context.Context, id string) (*model.SequenceInstance, error)
	// Cancel marks an instance cancelled. Idempotent: cancelling an already
	// cancelled or completed instance reports false with no error.
	Cancel(ctx context.Context, instanceID string) (bool, error)
	// AdvanceStep records that step index resolved and bumps NextStep, marking
	// the instance completed past the final step.
	AdvanceStep(ctx context.Context, instanceID string, stepIndex int) (*model.SequenceInstance, error)
}

// MetricRepository defines the interface for the durable metric event store.
// The store is append-only and authoritative; cached counters are rebuilt
// from it by replay.
type MetricRepository interface {
	// Append stores the event. Duplicate (job, attempt, event type) triples
	// report false with no error so provider webhook replays stay idempotent.
	Append(ctx context.Context, event *model.MetricEvent) (bool, error)
	CountsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error)
	// Replay streams all events for a campaign in occurrence order.
	Replay(ctx context.Context, campaignID string, fn func(*model.MetricEvent) error) error
}

// ConsumeWindowParams groups parameters for BudgetRepository.TryConsumePair.
type ConsumeWindowParams struct {
	HourWindow time.Time
	DayWindow  time.Time
	HourLimit  int
	DayLimit   int
}

// BudgetRepository persists hour and day rate-budget counters so ceilings
// survive a crash-restart within the current window.
type BudgetRepository interface {
	// TryConsumePair atomically increments both the hour and day counters if
	// neither would exceed its limit; a denial consumes nothing.
	TryConsumePair(ctx context.Context, params ConsumeWindowParams) (bool, error)
	// Counts returns the current hour and day counts for the given windows.
	Counts(ctx context.Context, hourWindow, dayWindow time.Time) (hour int, day int, err error)
	// Reset zeroes the counters for a window; resetting a missing or already
	// zero window is a no-op.
	Reset(ctx context.Context, window time.Time) error
	// DeleteExpired drops counter rows for windows older than the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SuppressionRepository tracks recipients removed from all future outreach.
type SuppressionRepository interface {
	// Add is idempotent; suppressing an already suppressed recipient is a no-op.
	Add(ctx context.Context, sup *model.Suppression) error
	IsSuppressed(ctx context.Context, recipientID string) (bool, error)
	// FilterSuppressed returns the subset of ids that are suppressed.
	FilterSuppressed(ctx context.Context, recipientIDs []string) (map[string]bool, error)
}

// StatsCache is the fast counter layer over the authoritative event store.
type StatsCache interface {
	Incr(ctx context.Context, campaignID string, eventType model.EventType, delta int64) error
	Get(ctx context.Context, campaignID string) (*model.CampaignStats, bool, error)
	// Replace swaps the cached counters for a campaign wholesale, used by rebuild.
	Replace(ctx context.Context, campaignID string, stats *model.CampaignStats) error
}

// AudienceResolver resolves a segment descriptor to concrete recipients.
type AudienceResolver interface {
	ResolveSegment(ctx context.Context, desc model.SegmentDescriptor, limit int) ([]*model.Recipient, error)
}

// RenderedContent is the provider-ready output of template personalization.
type RenderedContent struct {
	Subject string
	Body    string
}

// TemplateRenderer personalizes a template for one recipient.
type TemplateRenderer interface {
	Render(ctx context.Context, templateID string, variables map[string]any) (*RenderedContent, error)
}

// SendStatus is the provider's synchronous classification of a send attempt.
type SendStatus string

const (
	SendStatusSent      SendStatus = "sent"
	SendStatusBounced   SendStatus = "bounced"
	SendStatusRejected  SendStatus = "rejected"
	SendStatusThrottled SendStatus = "throttled"
)

// SendRequest groups parameters for DeliveryProvider.Send.
type SendRequest struct {
	Address string
	Content *RenderedContent
	// Tags carry campaign and job identifiers for provider-side threading of
	// asynchronous webhook events back to their source.
	Tags map[string]string
}

// SendResult is the synchronous outcome of one provider call. This
// classification is authoritative for retry decisions; asynchronous webhook
// events feed metrics only.
type SendResult struct {
	Status            SendStatus
	ProviderMessageID string
}

// DeliveryProvider is the outbound channel adapter. Implementations must
// respect ctx cancellation; callers bound every Send with a timeout.
type DeliveryProvider interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// RecipientStateQuery answers stop-condition predicates against current
// recipient state.
type RecipientStateQuery interface {
	HasCompletedAction(ctx context.Context, recipientID, actionName string) (bool, error)
}
