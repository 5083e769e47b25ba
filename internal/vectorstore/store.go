// Package vectorstore implements the vector store adapter (C4): typed
// collections with insert/update/delete/near_vector/count/fetch_by_id,
// backed by Qdrant.
package vectorstore

import (
	"context"
	"time"

	"github.com/memcortex/fabric/internal/types"
)

// Collection is one of the fixed vector-store namespaces named in spec.md §3.
type Collection string

const (
	CollectionRaw       Collection = "Raw"
	CollectionKnowledge Collection = "Knowledge"
	CollectionTopics    Collection = "Topics"
	CollectionDomains   Collection = "Domains"
	CollectionInsights  Collection = "Insights"
	CollectionCache     Collection = "Cache"
)

// Filter narrows a near_vector search by metadata. Nil/zero fields are not
// applied.
type Filter struct {
	UserID       string
	PrivacyLevel types.PrivacyLevel
	Tags         []string
	EnabledOnly  bool
}

// Hit is one near_vector search result: the stored record, its raw distance
// (cosine, in [0,2]), and the similarity derived from it (1 - distance).
type Hit struct {
	ID         string
	Record     types.VectorRecord
	Distance   float64
	Similarity float64
}

// Store is the vector store adapter's operation surface. The adapter never
// deletes collections, only objects; the collection must already exist.
type Store interface {
	Insert(ctx context.Context, collection Collection, vector []float32, record types.VectorRecord) (string, error)
	Update(ctx context.Context, collection Collection, id string, vector []float32, record *types.VectorRecord) error
	// Delete is idempotent: deleting a missing id is a no-op that returns
	// false rather than an error.
	Delete(ctx context.Context, collection Collection, id string) (bool, error)
	NearVector(ctx context.Context, collection Collection, query []float32, limit int, filter *Filter) ([]Hit, error)
	Count(ctx context.Context, collection Collection) (int64, error)
	FetchByID(ctx context.Context, collection Collection, id string) (*types.VectorRecord, error)
}

// DistanceToSimilarity converts a Qdrant cosine distance in [0,2] to a
// similarity in [-1,1], per spec.md §4.4 ("similarity = 1 - distance").
func DistanceToSimilarity(distance float64) float64 { return 1 - distance }

func vectorRecordFromPayload(id string, payload map[string]any) types.VectorRecord {
	rec := types.VectorRecord{ID: id, Extra: map[string]any{}}
	for k, v := range payload {
		switch k {
		case "content":
			rec.Content, _ = v.(string)
		case "content_hash":
			rec.ContentHash, _ = v.(string)
		case "source_id":
			rec.SourceID, _ = v.(string)
		case "source_type":
			if s, ok := v.(string); ok {
				rec.SourceType = types.SourceType(s)
			}
		case "user_id":
			rec.UserID, _ = v.(string)
		case "privacy_level":
			if s, ok := v.(string); ok {
				rec.PrivacyLevel = types.PrivacyLevel(s)
			}
		case "tags":
			if tags, ok := v.([]string); ok {
				rec.Tags = tags
			} else if raw, ok := v.([]any); ok {
				for _, t := range raw {
					if s, ok := t.(string); ok {
						rec.Tags = append(rec.Tags, s)
					}
				}
			}
		case "cost_usd":
			if f, ok := v.(float64); ok {
				rec.CostUSD = f
			}
		case "created_at":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					rec.CreatedAt = t
				}
			}
		default:
			rec.Extra[k] = v
		}
	}
	return rec
}

func payloadFromVectorRecord(rec types.VectorRecord) map[string]any {
	payload := map[string]any{
		"content":       rec.Content,
		"content_hash":  rec.ContentHash,
		"source_id":     rec.SourceID,
		"source_type":   string(rec.SourceType),
		"user_id":       rec.UserID,
		"privacy_level": string(rec.PrivacyLevel),
		"tags":          rec.Tags,
		"cost_usd":      rec.CostUSD,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Extra {
		payload[k] = v
	}
	return payload
}
