package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/memcortex/fabric/internal/types"
)

// AuditRepository is an append-only ledger: no general Update or Delete
// method exists on purpose. PurgeBefore is the one narrow exception,
// reserved for the retention cleanup job, and only ever removes rows that
// have already been archived to cold storage first.
type AuditRepository interface {
	Append(ctx context.Context, event *types.AuditEvent) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]types.AuditEvent, error)
	// PurgeBefore deletes every event older than cutoff and returns the
	// deleted rows so the caller can archive them to cold storage; there is
	// no recovery path once it returns.
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AuditEvent, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, event *types.AuditEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *auditRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]types.AuditEvent, error) {
	var events []types.AuditEvent
	err := r.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return events, nil
}

func (r *auditRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AuditEvent, error) {
	var purged []types.AuditEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("timestamp < ?", cutoff).Order("timestamp ASC").Limit(limit).Find(&purged).Error; err != nil {
			return err
		}
		if len(purged) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(purged))
		for i, e := range purged {
			ids[i] = e.EventID
		}
		return tx.Where("event_id IN ?", ids).Delete(&types.AuditEvent{}).Error
	})
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return purged, nil
}
