package testutil

import (
	"time"

	"github.com/procurely/outreach/internal/domain/model"
)

// EnqueueRequestBuilder provides a fluent interface for building EnqueueRequest fixtures.
type EnqueueRequestBuilder struct {
	req *model.EnqueueRequest
}

// NewEnqueueRequest creates an EnqueueRequestBuilder with sensible defaults.
func NewEnqueueRequest() *EnqueueRequestBuilder {
	return &EnqueueRequestBuilder{
		req: &model.EnqueueRequest{
			CampaignID:  "camp-test",
			RecipientID: "rec-test",
			Address:     "buyer@example.com",
			TemplateID:  "tmpl-welcome",
			Subject:     "Welcome to Procurely",
			Priority:    model.TierStandard.JobPriority(),
			MaxAttempts: 3,
		},
	}
}

// WithCampaign sets the campaign identifier.
func (b *EnqueueRequestBuilder) WithCampaign(id string) *EnqueueRequestBuilder {
	b.req.CampaignID = id
	return b
}

// WithRecipient sets the recipient identifier and address.
func (b *EnqueueRequestBuilder) WithRecipient(id, address string) *EnqueueRequestBuilder {
	b.req.RecipientID = id
	b.req.Address = address
	return b
}

// WithTemplate sets the template identifier.
func (b *EnqueueRequestBuilder) WithTemplate(id string) *EnqueueRequestBuilder {
	b.req.TemplateID = id
	return b
}

// WithPriority sets the job priority.
func (b *EnqueueRequestBuilder) WithPriority(priority int) *EnqueueRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithTier sets the job priority from a campaign tier.
func (b *EnqueueRequestBuilder) WithTier(tier model.PriorityTier) *EnqueueRequestBuilder {
	b.req.Priority = tier.JobPriority()
	return b
}

// WithMaxAttempts sets the attempt ceiling.
func (b *EnqueueRequestBuilder) WithMaxAttempts(n int) *EnqueueRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// WithNotBefore sets the earliest dispatch time.
func (b *EnqueueRequestBuilder) WithNotBefore(at time.Time) *EnqueueRequestBuilder {
	b.req.NotBefore = &at
	return b
}

// WithSequenceStep attaches the request to a sequence instance step.
func (b *EnqueueRequestBuilder) WithSequenceStep(instanceID string, stepIndex int) *EnqueueRequestBuilder {
	b.req.SequenceInstanceID = &instanceID
	b.req.StepIndex = &stepIndex
	return b
}

// AsTest marks the request as a test delivery.
func (b *EnqueueRequestBuilder) AsTest() *EnqueueRequestBuilder {
	b.req.IsTest = true
	return b
}

// Build returns the constructed EnqueueRequest.
func (b *EnqueueRequestBuilder) Build() *model.EnqueueRequest {
	return b.req
}
