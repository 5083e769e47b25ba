package compaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/llm"
	"github.com/memcortex/fabric/internal/types"
)

type fakeMemoryRepo struct {
	items []types.MemoryItem
}

func (f *fakeMemoryRepo) Create(ctx context.Context, item *types.MemoryItem) error { return nil }
func (f *fakeMemoryRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeMemoryRepo) GetByContentHash(ctx context.Context, userID uuid.UUID, hash string) (*types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeMemoryRepo) Update(ctx context.Context, item *types.MemoryItem) error { return nil }
func (f *fakeMemoryRepo) Delete(ctx context.Context, id uuid.UUID) error           { return nil }
func (f *fakeMemoryRepo) TouchAccess(ctx context.Context, id uuid.UUID, accessedAt time.Time) error {
	return nil
}
func (f *fakeMemoryRepo) ListByUser(ctx context.Context, userID uuid.UUID, tier types.MemoryTier, limit, offset int) ([]types.MemoryItem, error) {
	return f.items, nil
}
func (f *fakeMemoryRepo) ApplyFeedbackSummary(ctx context.Context, id uuid.UUID, summary types.FeedbackSummary) error {
	return nil
}
func (f *fakeMemoryRepo) ListForSweep(ctx context.Context, limit, offset int) ([]types.MemoryItem, error) {
	return f.items, nil
}

type fakeTopicRepo struct {
	created []types.TopicSummary
	listed  []types.TopicSummary
}

func (f *fakeTopicRepo) Create(ctx context.Context, summary *types.TopicSummary) error {
	f.created = append(f.created, *summary)
	return nil
}
func (f *fakeTopicRepo) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]types.TopicSummary, error) {
	return f.listed, nil
}

type fakeDomainRepo struct {
	created []types.DomainMap
}

func (f *fakeDomainRepo) Create(ctx context.Context, domain *types.DomainMap) error {
	f.created = append(f.created, *domain)
	return nil
}

type fakeChat struct {
	response llm.Response
	err      error
	calls    int
}

func (f *fakeChat) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls++
	return f.response, f.err
}
func (f *fakeChat) ModelName() string { return "fake" }

func memoryItem(tag, content string, age time.Duration) types.MemoryItem {
	return types.MemoryItem{
		MemoryID:  uuid.New(),
		Content:   content,
		Tags:      []string{tag},
		CreatedAt: time.Now().Add(-age),
	}
}

func newCompactor(t *testing.T, memories *fakeMemoryRepo, topics *fakeTopicRepo, domains *fakeDomainRepo, chat llm.Chat) *Compactor {
	t.Helper()
	c, err := NewCompactor(memories, topics, domains, chat, nil, 2, DefaultBudgetUSD)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCompactToTopicSummariesSkipsSmallClusters(t *testing.T) {
	memories := &fakeMemoryRepo{items: []types.MemoryItem{
		memoryItem("golang", "a", time.Hour),
		memoryItem("golang", "b", time.Hour),
	}}
	topics := &fakeTopicRepo{}
	chat := &fakeChat{}
	c := newCompactor(t, memories, topics, &fakeDomainRepo{}, chat)

	result, err := c.CompactToTopicSummaries(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClustersFound)
	assert.Equal(t, 0, result.TopicsCreated)
	assert.Equal(t, 0, chat.calls)
}

func TestCompactToTopicSummariesSynthesizesCompactableCluster(t *testing.T) {
	memories := &fakeMemoryRepo{items: []types.MemoryItem{
		memoryItem("golang", "a", time.Hour),
		memoryItem("golang", "b", time.Hour),
		memoryItem("golang", "c", time.Hour),
	}}
	topics := &fakeTopicRepo{}
	raw, _ := json.Marshal(map[string]any{
		"summary":        "Go concurrency patterns",
		"entity_map":     map[string]any{"goroutine": []any{"channel"}},
		"knowledge_gaps": []string{"generics"},
	})
	chat := &fakeChat{response: llm.Response{Text: string(raw), CostUSD: 0.01}}
	c := newCompactor(t, memories, topics, &fakeDomainRepo{}, chat)

	result, err := c.CompactToTopicSummaries(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TopicsCreated)
	assert.Equal(t, 0, result.Errors)
	require.Len(t, topics.created, 1)
	assert.Equal(t, "golang", topics.created[0].Topic)
	assert.Equal(t, "Go concurrency patterns", topics.created[0].Summary)
	assert.InDelta(t, 0.01, result.CostUSD, 0.0001)
}

func TestCompactToTopicSummariesIgnoresStaleEntries(t *testing.T) {
	memories := &fakeMemoryRepo{items: []types.MemoryItem{
		memoryItem("golang", "a", 40*24*time.Hour),
		memoryItem("golang", "b", 40*24*time.Hour),
		memoryItem("golang", "c", 40*24*time.Hour),
	}}
	chat := &fakeChat{}
	c := newCompactor(t, memories, &fakeTopicRepo{}, &fakeDomainRepo{}, chat)

	result, err := c.CompactToTopicSummaries(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 0, result.EntriesProcessed)
	assert.Equal(t, 0, chat.calls)
}

func TestCompactToTopicSummariesCountsMalformedResponseAsError(t *testing.T) {
	memories := &fakeMemoryRepo{items: []types.MemoryItem{
		memoryItem("golang", "a", time.Hour),
		memoryItem("golang", "b", time.Hour),
		memoryItem("golang", "c", time.Hour),
	}}
	chat := &fakeChat{response: llm.Response{Text: "not json at all"}}
	topics := &fakeTopicRepo{}
	c := newCompactor(t, memories, topics, &fakeDomainRepo{}, chat)

	result, err := c.CompactToTopicSummaries(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.TopicsCreated)
	assert.Empty(t, topics.created)
}

func TestCompactToDomainMapsRequiresMinimumTopics(t *testing.T) {
	topics := &fakeTopicRepo{listed: []types.TopicSummary{{Topic: "golang"}}}
	domains := &fakeDomainRepo{}
	chat := &fakeChat{}
	c := newCompactor(t, &fakeMemoryRepo{}, topics, domains, chat)

	result, err := c.CompactToDomainMaps(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 0, result.DomainsCreated)
	assert.Equal(t, 0, chat.calls)
}

func TestCompactToDomainMapsSynthesizesAcrossTopics(t *testing.T) {
	topics := &fakeTopicRepo{listed: []types.TopicSummary{
		{TopicSummaryID: uuid.New(), Topic: "golang", Summary: "concurrency"},
		{TopicSummaryID: uuid.New(), Topic: "databases", Summary: "indexing"},
	}}
	raw, _ := json.Marshal(map[string]any{
		"domain_name":               "backend engineering",
		"topology":                  "hub-and-spoke",
		"cross_topic_relationships": map[string]any{"golang": []any{"databases"}},
		"strengths":                 []string{"concurrency"},
		"gaps":                      []string{"distributed transactions"},
		"emerging_themes":           []string{"observability"},
	})
	chat := &fakeChat{response: llm.Response{Text: string(raw), CostUSD: 0.02}}
	domains := &fakeDomainRepo{}
	c := newCompactor(t, &fakeMemoryRepo{}, topics, domains, chat)

	result, err := c.CompactToDomainMaps(context.Background(), uuid.New(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, result.DomainsCreated)
	require.Len(t, domains.created, 1)
	assert.Equal(t, "backend engineering", domains.created[0].DomainName)
}

func TestClusterByTopicIgnoresUntaggedEntries(t *testing.T) {
	items := []types.MemoryItem{
		memoryItem("golang", "a", time.Hour),
		{MemoryID: uuid.New(), Content: "untagged", Tags: nil, CreatedAt: time.Now()},
	}
	clusters := clusterByTopic(items)
	assert.Len(t, clusters, 1)
	assert.Len(t, clusters["golang"], 1)
}

func TestParseJSONObjectExtractsEmbeddedObject(t *testing.T) {
	obj, err := parseJSONObject("Here is the result:\n{\"summary\": \"ok\", \"entity_map\": {}, \"knowledge_gaps\": []}\nThanks.")
	require.NoError(t, err)
	assert.Equal(t, "ok", obj["summary"])
}

func TestParseJSONObjectErrorsWithoutJSON(t *testing.T) {
	_, err := parseJSONObject("no json here")
	assert.Error(t, err)
}
