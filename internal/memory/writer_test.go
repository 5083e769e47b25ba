package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/audit"
	"github.com/memcortex/fabric/internal/crypto"
	"github.com/memcortex/fabric/internal/embedding"
	"github.com/memcortex/fabric/internal/types"
	"github.com/memcortex/fabric/internal/vectorstore"
)

type fakeItemRepo struct {
	byHash    map[string]*types.MemoryItem
	created   []*types.MemoryItem
	createErr error
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{byHash: map[string]*types.MemoryItem{}}
}

func (f *fakeItemRepo) Create(ctx context.Context, item *types.MemoryItem) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, item)
	f.byHash[item.UserID.String()+"|"+item.ContentHash] = item
	return nil
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.MemoryItem, error) {
	for _, item := range f.created {
		if item.MemoryID == id {
			return item, nil
		}
	}
	return nil, nil
}

func (f *fakeItemRepo) GetByContentHash(ctx context.Context, userID uuid.UUID, hash string) (*types.MemoryItem, error) {
	return f.byHash[userID.String()+"|"+hash], nil
}

func (f *fakeItemRepo) Update(ctx context.Context, item *types.MemoryItem) error { return nil }
func (f *fakeItemRepo) Delete(ctx context.Context, id uuid.UUID) error           { return nil }
func (f *fakeItemRepo) TouchAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}
func (f *fakeItemRepo) ListByUser(ctx context.Context, userID uuid.UUID, tier types.MemoryTier, limit, offset int) ([]types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeItemRepo) ApplyFeedbackSummary(ctx context.Context, id uuid.UUID, s types.FeedbackSummary) error {
	return nil
}

type fakeVectorStore struct {
	inserted []types.VectorRecord
	deleted  []string
	insertErr error
}

func (f *fakeVectorStore) Insert(ctx context.Context, collection vectorstore.Collection, vector []float32, record types.VectorRecord) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, record)
	return "vec-" + record.SourceID, nil
}
func (f *fakeVectorStore) Update(ctx context.Context, collection vectorstore.Collection, id string, vector []float32, record *types.VectorRecord) error {
	return nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, collection vectorstore.Collection, id string) (bool, error) {
	f.deleted = append(f.deleted, id)
	return true, nil
}
func (f *fakeVectorStore) NearVector(ctx context.Context, collection vectorstore.Collection, query []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Count(ctx context.Context, collection vectorstore.Collection) (int64, error) {
	return 0, nil
}
func (f *fakeVectorStore) FetchByID(ctx context.Context, collection vectorstore.Collection, id string) (*types.VectorRecord, error) {
	return nil, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Result, error) {
	if f.err != nil {
		return embedding.Result{}, f.err
	}
	return embedding.Result{Vector: f.vec, Latency: time.Millisecond}, nil
}
func (f *fakeEmbedder) BatchEmbed(ctx context.Context, texts []string) ([]embedding.Result, error) {
	return nil, nil
}
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return embedding.Dimensions }

type fakeAuditRepoForMemory struct{ count int }

func (f *fakeAuditRepoForMemory) Append(ctx context.Context, event *types.AuditEvent) error {
	f.count++
	return nil
}
func (f *fakeAuditRepoForMemory) ListSince(ctx context.Context, since time.Time, limit int) ([]types.AuditEvent, error) {
	return nil, nil
}
func (f *fakeAuditRepoForMemory) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AuditEvent, error) {
	return nil, nil
}

func newTestWriter(t *testing.T) (*Writer, *fakeItemRepo, *fakeVectorStore, *fakeAuditRepoForMemory) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	mgr, err := crypto.NewManager(key)
	require.NoError(t, err)

	items := newFakeItemRepo()
	vectors := &fakeVectorStore{}
	vec := make([]float32, embedding.Dimensions)
	embedder := &fakeEmbedder{vec: vec}
	auditRepo := &fakeAuditRepoForMemory{}

	w := NewWriter(items, vectors, mgr, embedder, audit.NewLogger(auditRepo))
	return w, items, vectors, auditRepo
}

func TestCreateStoresItemAndVector(t *testing.T) {
	w, items, vectors, auditRepo := newTestWriter(t)

	id, err := w.Create(context.Background(), CreateInput{
		UserID:            uuid.New(),
		TenantID:          "tenant-1",
		Content:           "remember the wifi password is on the fridge",
		AutoDetectPrivacy: true,
	})

	require.NoError(t, err)
	require.NotNil(t, id)
	require.Len(t, items.created, 1)
	require.Len(t, vectors.inserted, 1)
	require.Equal(t, 1, auditRepo.count)
	require.Equal(t, types.TierShort, items.created[0].Tier)
}

func TestCreateReturnsNilOnDuplicate(t *testing.T) {
	w, items, _, auditRepo := newTestWriter(t)
	userID := uuid.New()

	first, err := w.Create(context.Background(), CreateInput{UserID: userID, Content: "duplicate me", AutoDetectPrivacy: true})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := w.Create(context.Background(), CreateInput{UserID: userID, Content: "duplicate me", AutoDetectPrivacy: true})
	require.NoError(t, err)
	require.Nil(t, second)
	require.Len(t, items.created, 1)
	require.Equal(t, 2, auditRepo.count) // create + create_memory_duplicate
}

func TestCreateRollsBackVectorOnRelationalFailure(t *testing.T) {
	w, items, vectors, _ := newTestWriter(t)
	items.createErr = errors.New("connection reset")

	id, err := w.Create(context.Background(), CreateInput{UserID: uuid.New(), Content: "this will fail to persist", AutoDetectPrivacy: true})

	require.Error(t, err)
	require.Nil(t, id)
	require.Len(t, vectors.deleted, 1)
}

func TestCreateDetectsLocalOnlyPrivacy(t *testing.T) {
	w, items, _, _ := newTestWriter(t)
	_, err := w.Create(context.Background(), CreateInput{
		UserID:            uuid.New(),
		Content:           "api_key: sk-1234567890abcdef1234567890abcdef",
		AutoDetectPrivacy: true,
	})
	require.NoError(t, err)
	require.Equal(t, types.PrivacyLocalOnly, items.created[0].PrivacyLevel)
}

func TestCreateFlagsQAPollution(t *testing.T) {
	w, items, _, _ := newTestWriter(t)
	_, err := w.Create(context.Background(), CreateInput{
		UserID:            uuid.New(),
		Content:           "Q: what time is the meeting?\nA: 3pm",
		AutoDetectPrivacy: true,
	})
	require.NoError(t, err)
	require.True(t, items.created[0].QAPollution)
}

func TestUpdateContentReembedsAndReplacesVector(t *testing.T) {
	w, items, vectors, _ := newTestWriter(t)
	userID := uuid.New()
	id, err := w.Create(context.Background(), CreateInput{UserID: userID, Content: "original content", AutoDetectPrivacy: true})
	require.NoError(t, err)

	newContent := "updated content"
	err = w.Update(context.Background(), *id, UpdateInput{Content: &newContent})
	require.NoError(t, err)

	require.Equal(t, newContent, items.created[0].Content)
	require.Equal(t, crypto.HashContent(newContent), items.created[0].ContentHash)
	_ = vectors
}

func TestUpdateTagsOnlyPatchesVectorWithoutReembed(t *testing.T) {
	w, items, _, _ := newTestWriter(t)
	id, err := w.Create(context.Background(), CreateInput{UserID: uuid.New(), Content: "tag update test", AutoDetectPrivacy: true})
	require.NoError(t, err)

	err = w.Update(context.Background(), *id, UpdateInput{Tags: []string{"new-tag"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"new-tag"}, items.created[0].Tags)
}

func TestUpdateRejectsInvalidPrivacyLevel(t *testing.T) {
	w, _, _, _ := newTestWriter(t)
	id, err := w.Create(context.Background(), CreateInput{UserID: uuid.New(), Content: "privacy update test", AutoDetectPrivacy: true})
	require.NoError(t, err)

	err = w.Update(context.Background(), *id, UpdateInput{PrivacyLevel: "NOT_A_LEVEL"})
	require.Error(t, err)
}

func TestDeleteRemovesVectorThenRow(t *testing.T) {
	w, _, vectors, auditRepo := newTestWriter(t)
	id, err := w.Create(context.Background(), CreateInput{UserID: uuid.New(), Content: "to be deleted", AutoDetectPrivacy: true})
	require.NoError(t, err)

	countBefore := auditRepo.count
	err = w.Delete(context.Background(), *id)
	require.NoError(t, err)
	require.Len(t, vectors.deleted, 1)
	require.Equal(t, countBefore+1, auditRepo.count)
}

func TestIsQAPollutionVariants(t *testing.T) {
	require.True(t, isQAPollution("User: hi\nAssistant: hello there"))
	require.True(t, isQAPollution("Query: x\nResponse: y"))
	require.False(t, isQAPollution("just a normal memory with no structure"))
}
