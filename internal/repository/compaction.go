package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/memcortex/fabric/internal/types"
)

// TopicSummaryRepository persists level-3 compaction output.
type TopicSummaryRepository interface {
	Create(ctx context.Context, summary *types.TopicSummary) error
	ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]types.TopicSummary, error)
}

type topicSummaryRepository struct{ db *gorm.DB }

func NewTopicSummaryRepository(db *gorm.DB) TopicSummaryRepository {
	return &topicSummaryRepository{db: db}
}

func (r *topicSummaryRepository) Create(ctx context.Context, summary *types.TopicSummary) error {
	if err := r.db.WithContext(ctx).Create(summary).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *topicSummaryRepository) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]types.TopicSummary, error) {
	var summaries []types.TopicSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&summaries).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return summaries, nil
}

// DomainMapRepository persists level-4 compaction output.
type DomainMapRepository interface {
	Create(ctx context.Context, domain *types.DomainMap) error
}

type domainMapRepository struct{ db *gorm.DB }

func NewDomainMapRepository(db *gorm.DB) DomainMapRepository {
	return &domainMapRepository{db: db}
}

func (r *domainMapRepository) Create(ctx context.Context, domain *types.DomainMap) error {
	if err := r.db.WithContext(ctx).Create(domain).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}
