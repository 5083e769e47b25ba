package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/memcortex/fabric/internal/types"
)

// FeedbackRepository is append-only: rows are never mutated or deleted once
// written, per spec — feedback is the input to C14/C15, not something they
// correct in place.
type FeedbackRepository interface {
	Append(ctx context.Context, fb *types.Feedback) error
	SummaryForMemory(ctx context.Context, memoryID uuid.UUID) (types.FeedbackSummary, error)
	RecentByUser(ctx context.Context, userID uuid.UUID, since int, limit int) ([]types.Feedback, error)
}

type feedbackRepository struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &feedbackRepository{db: db}
}

func (r *feedbackRepository) Append(ctx context.Context, fb *types.Feedback) error {
	if err := r.db.WithContext(ctx).Create(fb).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

// SummaryForMemory aggregates feedback joined through query_metrics'
// memories_used, the denormalization source for MemoryItem.FeedbackSummary.
func (r *feedbackRepository) SummaryForMemory(ctx context.Context, memoryID uuid.UUID) (types.FeedbackSummary, error) {
	var rows []types.Feedback
	err := r.db.WithContext(ctx).
		Table("query_feedback").
		Joins("JOIN query_metrics ON query_metrics.query_id = query_feedback.query_id").
		Where("query_metrics.memories_used @> ?", memoryIDContainsFilter(memoryID)).
		Find(&rows).Error
	if err != nil {
		return types.FeedbackSummary{}, wrapRelationalErr(err)
	}
	return summarize(rows), nil
}

func (r *feedbackRepository) RecentByUser(ctx context.Context, userID uuid.UUID, since int, limit int) ([]types.Feedback, error) {
	var rows []types.Feedback
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return rows, nil
}

func summarize(rows []types.Feedback) types.FeedbackSummary {
	var s types.FeedbackSummary
	var ratingSum, ratedCount int
	for _, row := range rows {
		s.TotalRatings++
		if row.Rating > 0 {
			ratingSum += row.Rating
			ratedCount++
		}
		switch row.FeedbackType {
		case types.FeedbackThumbsUp:
			s.ThumbsUp++
		case types.FeedbackThumbsDown:
			s.ThumbsDown++
		case types.FeedbackRegenerate:
			s.Regenerates++
		}
	}
	if ratedCount > 0 {
		s.AvgRating = float64(ratingSum) / float64(ratedCount)
	}
	return s
}

// memoryIDContainsFilter formats a uuid as the single-element JSON array
// literal Postgres' jsonb `@>` containment operator expects.
func memoryIDContainsFilter(memoryID uuid.UUID) string {
	return `["` + memoryID.String() + `"]`
}
