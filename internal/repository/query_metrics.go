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

// QueryMetricsRepository records one row per orchestrated query.
type QueryMetricsRepository interface {
	Create(ctx context.Context, metrics *types.QueryMetrics) error
	GetByID(ctx context.Context, queryID uuid.UUID) (*types.QueryMetrics, error)
	Update(ctx context.Context, metrics *types.QueryMetrics) error
	AttachFeedback(ctx context.Context, queryID, feedbackID uuid.UUID) error
	// PurgeBefore deletes every row older than cutoff and returns the
	// deleted rows so the retention job can archive them first.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.QueryMetrics, error)
}

type queryMetricsRepository struct {
	db *gorm.DB
}

func NewQueryMetricsRepository(db *gorm.DB) QueryMetricsRepository {
	return &queryMetricsRepository{db: db}
}

func (r *queryMetricsRepository) Create(ctx context.Context, metrics *types.QueryMetrics) error {
	if err := r.db.WithContext(ctx).Create(metrics).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *queryMetricsRepository) GetByID(ctx context.Context, queryID uuid.UUID) (*types.QueryMetrics, error) {
	var m types.QueryMetrics
	err := r.db.WithContext(ctx).Where("query_id = ?", queryID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &m, nil
}

func (r *queryMetricsRepository) Update(ctx context.Context, metrics *types.QueryMetrics) error {
	if err := r.db.WithContext(ctx).Save(metrics).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *queryMetricsRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.QueryMetrics, error) {
	var purged []types.QueryMetrics
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("created_at < ?", cutoff).Order("created_at ASC").Limit(limit).Find(&purged).Error; err != nil {
			return err
		}
		if len(purged) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(purged))
		for i, m := range purged {
			ids[i] = m.QueryID
		}
		return tx.Where("query_id IN ?", ids).Delete(&types.QueryMetrics{}).Error
	})
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return purged, nil
}

func (r *queryMetricsRepository) AttachFeedback(ctx context.Context, queryID, feedbackID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&types.QueryMetrics{}).
		Where("query_id = ?", queryID).
		Update("feedback_id", feedbackID)
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}
