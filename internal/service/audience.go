package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/procurely/outreach/internal/domain/model"
)

// SegmentEvaluator abstracts JMESPath operations for testability.
type SegmentEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathSegmentEvaluator implements SegmentEvaluator using go-jmespath.
type jmespathSegmentEvaluator struct{}

func (j jmespathSegmentEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathSegmentEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// DirectorySource lists the candidate records a segment filter runs over.
// *data.DirectoryRepo satisfies it.
type DirectorySource interface {
	ListRecords(ctx context.Context, limit int) ([]*model.Recipient, error)
}

// AudienceServiceOptions groups dependencies for AudienceService.
type AudienceServiceOptions struct {
	Directory DirectorySource
	Evaluator SegmentEvaluator
	Logger    *slog.Logger
}

// AudienceService resolves segment descriptors against the directory by
// evaluating each record's attribute map with the segment's filter
// expression. Implements core.AudienceResolver.
type AudienceService struct {
	directory DirectorySource
	evaluator SegmentEvaluator
	logger    *slog.Logger
}

// NewAudienceService constructs a new AudienceService.
func NewAudienceService(opts AudienceServiceOptions) (*AudienceService, error) {
	if opts.Directory == nil {
		return nil, errors.New("DirectorySource is required")
	}

	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = jmespathSegmentEvaluator{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "audience_service")
	}

	return &AudienceService{
		directory: opts.Directory,
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

// MustNewAudienceService constructs a new AudienceService and panics on error.
func MustNewAudienceService(opts AudienceServiceOptions) *AudienceService {
	svc, err := NewAudienceService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AudienceService: %v", err))
	}
	return svc
}

// ResolveSegment evaluates the descriptor's filter against every directory
// record and returns the matches, capped at limit when limit > 0. A filter
// that fails to compile is a configuration error and fails the whole resolve.
func (s *AudienceService) ResolveSegment(
	ctx context.Context,
	desc model.SegmentDescriptor,
	limit int,
) ([]*model.Recipient, error) {
	if err := s.evaluator.Validate(desc.Filter); err != nil {
		return nil, fmt.Errorf("segment %s filter: %w", desc.Key, err)
	}

	records, err := s.directory.ListRecords(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list directory records: %w", err)
	}

	matched := make([]*model.Recipient, 0, len(records))
	for _, rec := range records {
		ok, err := s.matches(desc.Filter, rec)
		if err != nil {
			// A record with malformed attributes should not sink the
			// launch; skip it and keep resolving.
			if s.logger != nil {
				s.logger.WarnContext(ctx, "segment filter failed for record",
					"segment", desc.Key, "recipient_id", rec.ID, "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		matched = append(matched, rec)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "segment resolved",
			"segment", desc.Key, "candidates", len(records), "matched", len(matched))
	}
	return matched, nil
}

func (s *AudienceService) matches(filter string, rec *model.Recipient) (bool, error) {
	if strings.TrimSpace(filter) == "" {
		return true, nil
	}
	result, err := s.evaluator.Evaluate(filter, map[string]any{
		"id":         rec.ID,
		"address":    rec.Address,
		"attributes": rec.Attributes,
	})
	if err != nil {
		return false, err
	}
	return truthy(result), nil
}

// truthy follows JMESPath truthiness: null, false, empty string, empty
// collection are all false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
