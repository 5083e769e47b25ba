package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// OAuthTokenRepository stores per-provider token pairs, always ciphertext.
type OAuthTokenRepository interface {
	Upsert(ctx context.Context, token *types.OAuthTokenRecord) error
	Get(ctx context.Context, userID uuid.UUID, provider string) (*types.OAuthTokenRecord, error)
	Delete(ctx context.Context, userID uuid.UUID, provider string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error)
}

type oauthTokenRepository struct {
	db *gorm.DB
}

func NewOAuthTokenRepository(db *gorm.DB) OAuthTokenRepository {
	return &oauthTokenRepository{db: db}
}

func (r *oauthTokenRepository) Upsert(ctx context.Context, token *types.OAuthTokenRecord) error {
	err := r.db.WithContext(ctx).
		Where("provider = ? AND user_id = ?", token.Provider, token.UserID).
		Assign(*token).
		FirstOrCreate(token).Error
	if err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *oauthTokenRepository) Get(ctx context.Context, userID uuid.UUID, provider string) (*types.OAuthTokenRecord, error) {
	var rec types.OAuthTokenRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &rec, nil
}

// Delete removes one provider's stored token for a user, used by a
// single-provider revoke. Revoking a token record that never existed is not
// an error.
func (r *oauthTokenRepository) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Delete(&types.OAuthTokenRecord{})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	return nil
}

// RevokeAll deletes every stored token for a user — the supplemented
// account-disconnect operation a wholesale OAuth integration needs that a
// single-provider read/write API doesn't.
func (r *oauthTokenRepository) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&types.OAuthTokenRecord{})
	if res.Error != nil {
		return 0, wrapRelationalErr(res.Error)
	}
	return res.RowsAffected, nil
}
