package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// MemoryItemRepository is the relational side of the memory write path
// (C6). The vector store mirror is the caller's concern, not this package's.
type MemoryItemRepository interface {
	Create(ctx context.Context, item *types.MemoryItem) error
	GetByID(ctx context.Context, memoryID uuid.UUID) (*types.MemoryItem, error)
	GetByContentHash(ctx context.Context, userID uuid.UUID, contentHash string) (*types.MemoryItem, error)
	Update(ctx context.Context, item *types.MemoryItem) error
	Delete(ctx context.Context, memoryID uuid.UUID) error
	TouchAccess(ctx context.Context, memoryID uuid.UUID, accessedAt time.Time) error
	ListByUser(ctx context.Context, userID uuid.UUID, tier types.MemoryTier, limit, offset int) ([]types.MemoryItem, error)
	ApplyFeedbackSummary(ctx context.Context, memoryID uuid.UUID, summary types.FeedbackSummary) error
	// ListForSweep pages through every memory item system-wide, ordered by
	// memory_id, for jobs that must visit every row regardless of owner
	// (CRS decay, dedup sweep, vector reconciliation).
	ListForSweep(ctx context.Context, limit, offset int) ([]types.MemoryItem, error)
	// SearchByTag backs the Write API's search_by_tag operation. Tags are
	// stored as a serialized JSON array, so matching is a substring test on
	// the quoted tag rather than a real containment query.
	SearchByTag(ctx context.Context, userID uuid.UUID, tag string, limit, offset int) ([]types.MemoryItem, error)
}

type memoryItemRepository struct {
	db *gorm.DB
}

func NewMemoryItemRepository(db *gorm.DB) MemoryItemRepository {
	return &memoryItemRepository{db: db}
}

func (r *memoryItemRepository) Create(ctx context.Context, item *types.MemoryItem) error {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *memoryItemRepository) GetByID(ctx context.Context, memoryID uuid.UUID) (*types.MemoryItem, error) {
	var item types.MemoryItem
	err := r.db.WithContext(ctx).Where("memory_id = ?", memoryID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &item, nil
}

// GetByContentHash backs the (user, content_hash) deduplication invariant:
// the write path checks this before inserting a new memory.
func (r *memoryItemRepository) GetByContentHash(ctx context.Context, userID uuid.UUID, contentHash string) (*types.MemoryItem, error) {
	var item types.MemoryItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ?", userID, contentHash).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &item, nil
}

func (r *memoryItemRepository) Update(ctx context.Context, item *types.MemoryItem) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *memoryItemRepository) Delete(ctx context.Context, memoryID uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("memory_id = ?", memoryID).Delete(&types.MemoryItem{})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}

func (r *memoryItemRepository) TouchAccess(ctx context.Context, memoryID uuid.UUID, accessedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&types.MemoryItem{}).
		Where("memory_id = ?", memoryID).
		Updates(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": accessedAt,
		})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}

func (r *memoryItemRepository) ListByUser(ctx context.Context, userID uuid.UUID, tier types.MemoryTier, limit, offset int) ([]types.MemoryItem, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if tier != "" {
		q = q.Where("tier = ?", tier)
	}
	var items []types.MemoryItem
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, wrapRelationalErr(err)
	}
	return items, nil
}

func (r *memoryItemRepository) ListForSweep(ctx context.Context, limit, offset int) ([]types.MemoryItem, error) {
	var items []types.MemoryItem
	if err := r.db.WithContext(ctx).Order("memory_id").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, wrapRelationalErr(err)
	}
	return items, nil
}

func (r *memoryItemRepository) SearchByTag(ctx context.Context, userID uuid.UUID, tag string, limit, offset int) ([]types.MemoryItem, error) {
	var items []types.MemoryItem
	needle := "%\"" + tag + "\"%"
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tags LIKE ?", userID, needle).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return items, nil
}

func (r *memoryItemRepository) ApplyFeedbackSummary(ctx context.Context, memoryID uuid.UUID, summary types.FeedbackSummary) error {
	res := r.db.WithContext(ctx).Model(&types.MemoryItem{}).
		Where("memory_id = ?", memoryID).
		Updates(map[string]any{
			"feedback_total_ratings": summary.TotalRatings,
			"feedback_avg_rating":    summary.AvgRating,
			"feedback_thumbs_up":     summary.ThumbsUp,
			"feedback_thumbs_down":   summary.ThumbsDown,
			"feedback_regenerates":   summary.Regenerates,
		})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}
