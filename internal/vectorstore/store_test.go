package vectorstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

func TestDistanceToSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, DistanceToSimilarity(0), 1e-9)
	require.InDelta(t, 0.0, DistanceToSimilarity(1), 1e-9)
	require.InDelta(t, -1.0, DistanceToSimilarity(2), 1e-9)
}

func TestPayloadRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := types.VectorRecord{
		ID:           "rec-1",
		Content:      "remember to renew the domain",
		ContentHash:  "abc123",
		SourceID:     "conv-9",
		SourceType:   types.SourceTypeConversation,
		UserID:       "user-1",
		PrivacyLevel: types.PrivacyInternal,
		Tags:         []string{"ops", "domains"},
		CostUSD:      0.0021,
		CreatedAt:    created,
		Extra:        map[string]any{"custom_field": "x"},
	}

	payload := payloadFromVectorRecord(rec)
	out := vectorRecordFromPayload("rec-1", payload)

	require.Equal(t, rec.ID, out.ID)
	require.Equal(t, rec.Content, out.Content)
	require.Equal(t, rec.ContentHash, out.ContentHash)
	require.Equal(t, rec.SourceID, out.SourceID)
	require.Equal(t, rec.SourceType, out.SourceType)
	require.Equal(t, rec.UserID, out.UserID)
	require.Equal(t, rec.PrivacyLevel, out.PrivacyLevel)
	require.ElementsMatch(t, rec.Tags, out.Tags)
	require.InDelta(t, rec.CostUSD, out.CostUSD, 1e-9)
	require.True(t, rec.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, "x", out.Extra["custom_field"])
}

func TestPayloadFromVectorRecordIncludesExtraFields(t *testing.T) {
	rec := types.VectorRecord{ID: "r", Extra: map[string]any{"decay_bucket": "hot"}}
	payload := payloadFromVectorRecord(rec)
	require.Equal(t, "hot", payload["decay_bucket"])
}

func TestQdrantCollectionName(t *testing.T) {
	s := &QdrantStore{collectionPrefix: "memcortex"}
	require.Equal(t, "memcortex_Knowledge", s.collectionName(CollectionKnowledge))
	require.Equal(t, "memcortex_Cache", s.collectionName(CollectionCache))
}

func TestBuildQdrantFilterNilWhenEmpty(t *testing.T) {
	require.Nil(t, buildQdrantFilter(Filter{}))
}

func TestBuildQdrantFilterNonNilWithFields(t *testing.T) {
	f := buildQdrantFilter(Filter{UserID: "u1", EnabledOnly: true})
	require.NotNil(t, f)
	require.Len(t, f.Must, 2)
}
