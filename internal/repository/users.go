// Package repository holds the gorm-backed relational DAOs: one file per
// aggregate root, each exposing a narrow interface plus its postgres
// implementation, mirroring the teacher's repository layer.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// UserRepository persists platform accounts. Deactivation is the only
// supported removal path; there is no hard delete.
type UserRepository interface {
	Create(ctx context.Context, user *types.User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*types.User, error)
	Deactivate(ctx context.Context, userID uuid.UUID) error
	Update(ctx context.Context, user *types.User) error
	ListActive(ctx context.Context) ([]types.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *types.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, tenantID, email string) (*types.User, error) {
	var user types.User
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, email).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &user, nil
}

func (r *userRepository) Deactivate(ctx context.Context, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&types.User{}).
		Where("user_id = ?", userID).
		Update("is_active", false)
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}

func (r *userRepository) Update(ctx context.Context, user *types.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

// ListActive backs the scheduled jobs that must sweep every tenant/user
// pair (compaction, decay, dedup, reconciliation) rather than one user at a
// time.
func (r *userRepository) ListActive(ctx context.Context) ([]types.User, error) {
	var users []types.User
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&users).Error; err != nil {
		return nil, wrapRelationalErr(err)
	}
	return users, nil
}
