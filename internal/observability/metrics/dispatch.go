package metrics

import (
	"time"

	obserrors "github.com/procurely/outreach/internal/observability/errors"
	"github.com/procurely/outreach/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultNoop      = "noop"
	ResultThrottled = "throttled"
	ResultDead      = "dead"
)

// DispatchMetric captures details about a delivery attempt for metric emission.
type DispatchMetric struct {
	CampaignID string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitDispatchLifecycle emits standardised delivery lifecycle metrics.
func EmitDispatchLifecycle(sink statsd.Sink, in DispatchMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"campaign_id": in.CampaignID,
		"transition":  in.Transition,
		"result":      in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("dispatch.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("dispatch.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
