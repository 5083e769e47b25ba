// Package feedback implements the feedback aggregator (C14): append a
// rating, then recompute and write the denormalized summary onto every
// memory item the rated query actually used.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

// SubmitInput is the caller-facing contract. ResponseSource is intentionally
// absent: per the resolved Open Question on response_source (spec.md §9.4),
// query_history is the single source of truth and any caller-supplied value
// would be ignored, so it is never accepted here.
type SubmitInput struct {
	QueryID      uuid.UUID
	UserID       uuid.UUID
	Rating       int
	FeedbackType types.FeedbackType
	Comment      string
}

// Aggregator owns feedback submission and the denormalized summary it
// drives onto MemoryItem rows.
type Aggregator struct {
	feedback repository.FeedbackRepository
	queries  repository.QueryMetricsRepository
	items    repository.MemoryItemRepository
}

func NewAggregator(feedback repository.FeedbackRepository, queries repository.QueryMetricsRepository, items repository.MemoryItemRepository) *Aggregator {
	return &Aggregator{feedback: feedback, queries: queries, items: items}
}

// Submit validates rating bounds and feedback_type at the boundary, appends
// the row (never mutated, duplicates accumulate — idempotency is explicitly
// not required per spec.md §4.13), back-fills response_source from the
// query_history row, and recomputes the summary on every memory item that
// query used.
func (a *Aggregator) Submit(ctx context.Context, in SubmitInput) (*types.Feedback, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be in 1..5, got %d", fabricerrors.ErrValidation, in.Rating)
	}
	if !in.FeedbackType.Valid() {
		return nil, fmt.Errorf("%w: invalid feedback_type %q", fabricerrors.ErrValidation, in.FeedbackType)
	}

	query, err := a.queries.GetByID(ctx, in.QueryID)
	if err != nil {
		return nil, err
	}

	fb := &types.Feedback{
		FeedbackID:     uuid.New(),
		QueryID:        in.QueryID,
		UserID:         in.UserID,
		Rating:         in.Rating,
		FeedbackType:   in.FeedbackType,
		ResponseSource: query.ResponseSource,
		Comment:        in.Comment,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.feedback.Append(ctx, fb); err != nil {
		return nil, err
	}

	if err := a.queries.AttachFeedback(ctx, in.QueryID, fb.FeedbackID); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"query_id": in.QueryID.String(), "reason": "attach feedback id to query_metrics"})
	}

	for _, memoryID := range query.MemoriesUsed {
		if err := a.recomputeSummary(ctx, memoryID); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"memory_id": memoryID.String(), "reason": "recompute feedback summary"})
		}
	}

	return fb, nil
}

func (a *Aggregator) recomputeSummary(ctx context.Context, memoryID uuid.UUID) error {
	summary, err := a.feedback.SummaryForMemory(ctx, memoryID)
	if err != nil {
		return err
	}
	return a.items.ApplyFeedbackSummary(ctx, memoryID, summary)
}
