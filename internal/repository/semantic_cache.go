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

// SemanticCacheRepository is the relational mirror of the Cache vector
// collection — the row carries usage accounting the vector payload doesn't
// need to duplicate on every hit.
type SemanticCacheRepository interface {
	Create(ctx context.Context, entry *types.SemanticCacheEntry) error
	GetByID(ctx context.Context, cacheID uuid.UUID) (*types.SemanticCacheEntry, error)
	RecordHit(ctx context.Context, cacheID uuid.UUID, hitAt time.Time) error
}

type semanticCacheRepository struct {
	db *gorm.DB
}

func NewSemanticCacheRepository(db *gorm.DB) SemanticCacheRepository {
	return &semanticCacheRepository{db: db}
}

func (r *semanticCacheRepository) Create(ctx context.Context, entry *types.SemanticCacheEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *semanticCacheRepository) GetByID(ctx context.Context, cacheID uuid.UUID) (*types.SemanticCacheEntry, error) {
	var entry types.SemanticCacheEntry
	err := r.db.WithContext(ctx).Where("cache_id = ?", cacheID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &entry, nil
}

func (r *semanticCacheRepository) RecordHit(ctx context.Context, cacheID uuid.UUID, hitAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&types.SemanticCacheEntry{}).
		Where("cache_id = ?", cacheID).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": hitAt,
		})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}
