// Package secrets implements OAuth token storage-at-rest (C18): tokens are
// held ciphertext-only, proactively refreshed ahead of expiry, and revoked
// by deletion regardless of whether the remote provider's revoke call
// succeeds.
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memcortex/fabric/internal/crypto"
	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

// RefreshBuffer mirrors TOKEN_REFRESH_BUFFER_MINUTES: a token is treated as
// expired 5 minutes before its actual expiry so a caller never hands out a
// token that dies mid-flight.
const RefreshBuffer = 5 * time.Minute

// Tokens is the decrypted, in-memory view of a stored OAuth token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	Email        string
}

func (t Tokens) isExpired(now time.Time) bool {
	return !now.Before(t.Expiry.Add(-RefreshBuffer))
}

// Refresher exchanges a refresh token for a new access/refresh pair against
// the provider's token endpoint. Implementations live per-provider (e.g. a
// Google OAuth client); Store only needs the exchange outcome.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	Revoke(ctx context.Context, accessToken string) error
}

// Store is the encrypted token vault. One Store serves every provider; the
// Refresher passed to GetValidToken is the provider-specific exchange
// client.
type Store struct {
	repo   repository.OAuthTokenRepository
	crypto *crypto.Manager
	now    func() time.Time
}

func NewStore(repo repository.OAuthTokenRepository, cryptoMgr *crypto.Manager) *Store {
	return &Store{repo: repo, crypto: cryptoMgr, now: func() time.Time { return time.Now().UTC() }}
}

// NewStoreFromMasterSecret derives the vault's AEAD key from an operator
// master secret via PBKDF2 (spec.md §4.17), rather than requiring a
// pre-generated 32-byte key the way NewStore's caller supplies one for
// content encryption.
func NewStoreFromMasterSecret(repo repository.OAuthTokenRepository, masterSecret string) (*Store, error) {
	mgr, err := crypto.NewManager(crypto.DeriveSecretStoreKey(masterSecret))
	if err != nil {
		return nil, fmt.Errorf("secrets: deriving vault key: %w", err)
	}
	return NewStore(repo, mgr), nil
}

// Put encrypts and upserts a freshly obtained token pair.
func (s *Store) Put(ctx context.Context, userID uuid.UUID, provider string, tokens Tokens) error {
	accessCipher, err := s.crypto.Encrypt([]byte(tokens.AccessToken), nil)
	if err != nil {
		return fmt.Errorf("secrets: encrypting access token: %w", err)
	}
	refreshCipher, err := s.crypto.Encrypt([]byte(tokens.RefreshToken), nil)
	if err != nil {
		return fmt.Errorf("secrets: encrypting refresh token: %w", err)
	}

	now := s.now()
	record := &types.OAuthTokenRecord{
		Provider:          provider,
		UserID:            userID,
		AccessCiphertext:  accessCipher,
		RefreshCiphertext: refreshCipher,
		Expiry:            tokens.Expiry,
		Scopes:            tokens.Scopes,
		Email:             tokens.Email,
		LastUsedAt:        &now,
	}
	return s.repo.Upsert(ctx, record)
}

// GetValidToken returns a usable access token, transparently refreshing it
// through r when the stored one is within RefreshBuffer of expiry (or
// already past it). A refresh failure propagates as-is; the caller decides
// whether that means re-authentication is required.
func (s *Store) GetValidToken(ctx context.Context, userID uuid.UUID, provider string, r Refresher) (string, error) {
	tokens, err := s.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	if !tokens.isExpired(s.now()) {
		return tokens.AccessToken, nil
	}

	logger.Info(ctx, "secrets: access token expired, refreshing")
	refreshed, err := r.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("secrets: refreshing token: %w", err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.Email == "" {
		refreshed.Email = tokens.Email
	}
	if err := s.Put(ctx, userID, provider, refreshed); err != nil {
		return "", fmt.Errorf("secrets: storing refreshed token: %w", err)
	}
	return refreshed.AccessToken, nil
}

func (s *Store) load(ctx context.Context, userID uuid.UUID, provider string) (Tokens, error) {
	rec, err := s.repo.Get(ctx, userID, provider)
	if err != nil {
		return Tokens{}, err
	}

	access, err := s.crypto.Decrypt(rec.AccessCiphertext, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: access token", fabricerrors.ErrDecryption)
	}
	refresh, err := s.crypto.Decrypt(rec.RefreshCiphertext, nil)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: refresh token", fabricerrors.ErrDecryption)
	}

	return Tokens{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		Expiry:       rec.Expiry,
		Scopes:       rec.Scopes,
		Email:        rec.Email,
	}, nil
}

// Revoke calls the provider's revoke endpoint on a best-effort basis and
// always deletes the local record, even if the remote call fails — a
// revoked-locally-but-not-remotely token is a lesser risk than one a user
// believes is gone but isn't.
func (s *Store) Revoke(ctx context.Context, userID uuid.UUID, provider string, r Refresher) error {
	tokens, err := s.load(ctx, userID, provider)
	if err == nil {
		if revokeErr := r.Revoke(ctx, tokens.AccessToken); revokeErr != nil {
			logger.Warnf(ctx, "secrets: remote revoke failed, removing local record anyway: %v", revokeErr)
		}
	}
	return s.repo.Delete(ctx, userID, provider)
}
