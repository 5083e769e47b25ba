package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/crypto"
	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

type fakeTokenRepo struct {
	records map[string]*types.OAuthTokenRecord
}

func newFakeTokenRepo() *fakeTokenRepo { return &fakeTokenRepo{records: map[string]*types.OAuthTokenRecord{}} }

func key(userID uuid.UUID, provider string) string { return userID.String() + ":" + provider }

func (f *fakeTokenRepo) Upsert(ctx context.Context, token *types.OAuthTokenRecord) error {
	cp := *token
	f.records[key(token.UserID, token.Provider)] = &cp
	return nil
}

func (f *fakeTokenRepo) Get(ctx context.Context, userID uuid.UUID, provider string) (*types.OAuthTokenRecord, error) {
	rec, ok := f.records[key(userID, provider)]
	if !ok {
		return nil, fabricerrors.ErrNotFound
	}
	return rec, nil
}

func (f *fakeTokenRepo) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	delete(f.records, key(userID, provider))
	return nil
}

func (f *fakeTokenRepo) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	for k := range f.records {
		if len(k) >= len(userID.String()) && k[:len(userID.String())] == userID.String() {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}

type fakeRefresher struct {
	refreshed Tokens
	refreshErr error
	revokeErr  error
	revokedToken string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	if f.refreshErr != nil {
		return Tokens{}, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeRefresher) Revoke(ctx context.Context, accessToken string) error {
	f.revokedToken = accessToken
	return f.revokeErr
}

func newStoreWithFixedNow(repo *fakeTokenRepo, now time.Time) *Store {
	key, _ := crypto.GenerateKey()
	mgr, _ := crypto.NewManager(key)
	s := NewStore(repo, mgr)
	s.now = func() time.Time { return now }
	return s
}

func TestGetValidTokenReturnsStoredTokenWhenNotNearExpiry(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(time.Hour),
	}))

	refresher := &fakeRefresher{}
	token, err := store.GetValidToken(context.Background(), userID, "google", refresher)
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
	require.Empty(t, refresher.revokedToken)
}

func TestGetValidTokenRefreshesWithinBuffer(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(2 * time.Minute), // inside the 5-minute buffer
	}))

	refresher := &fakeRefresher{refreshed: Tokens{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		Expiry:       now.Add(time.Hour),
	}}
	token, err := store.GetValidToken(context.Background(), userID, "google", refresher)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)

	reloaded, err := store.load(context.Background(), userID, "google")
	require.NoError(t, err)
	require.Equal(t, "access-2", reloaded.AccessToken)
	require.Equal(t, "refresh-2", reloaded.RefreshToken)
}

func TestGetValidTokenRefreshPreservesRefreshTokenWhenProviderOmitsIt(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(-time.Minute), // already expired
	}))

	refresher := &fakeRefresher{refreshed: Tokens{
		AccessToken: "access-2",
		Expiry:      now.Add(time.Hour),
	}}
	_, err := store.GetValidToken(context.Background(), userID, "google", refresher)
	require.NoError(t, err)

	reloaded, err := store.load(context.Background(), userID, "google")
	require.NoError(t, err)
	require.Equal(t, "refresh-1", reloaded.RefreshToken)
}

func TestGetValidTokenPropagatesRefreshFailure(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(-time.Minute),
	}))

	refresher := &fakeRefresher{refreshErr: errors.New("invalid_grant")}
	_, err := store.GetValidToken(context.Background(), userID, "google", refresher)
	require.Error(t, err)
}

func TestRevokeDeletesLocalRecordEvenWhenRemoteRevokeFails(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(time.Hour),
	}))

	refresher := &fakeRefresher{revokeErr: errors.New("network down")}
	require.NoError(t, store.Revoke(context.Background(), userID, "google", refresher))

	_, err := repo.Get(context.Background(), userID, "google")
	require.ErrorIs(t, err, fabricerrors.ErrNotFound)
	require.Equal(t, "access-1", refresher.revokedToken)
}

func TestPutEncryptsTokensAtRest(t *testing.T) {
	repo := newFakeTokenRepo()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newStoreWithFixedNow(repo, now)
	userID := uuid.New()

	require.NoError(t, store.Put(context.Background(), userID, "google", Tokens{
		AccessToken:  "super-secret-access",
		RefreshToken: "super-secret-refresh",
		Expiry:       now.Add(time.Hour),
	}))

	rec, err := repo.Get(context.Background(), userID, "google")
	require.NoError(t, err)
	require.NotContains(t, string(rec.AccessCiphertext), "super-secret-access")
	require.NotContains(t, string(rec.RefreshCiphertext), "super-secret-refresh")
}
