// Package semcache implements the semantic answer cache (C10): a trust-but-
// verify layer that answers a repeat query from a prior generation instead
// of paying for a fresh one, when the new query is near-identical by
// embedding similarity to something already cached.
package semcache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
	"github.com/memcortex/fabric/internal/vectorstore"
)

// DefaultThreshold is the near-vector similarity floor for a cache hit
// (tunable by the auto-tuner per spec.md §4.15's cache-quality analyzer).
const DefaultThreshold = 0.92

// Hit is a successful lookup: the stored answer plus the similarity it was
// found at.
type Hit struct {
	CacheID        uuid.UUID
	AnswerSummary  string
	CanonicalQuery string
	OriginalAgent  string
	Similarity     float64
}

// Cache wraps the Cache vector collection, its relational usage-accounting
// mirror, and an optional Redis client used only to recalibrate usage
// counters off the read path.
type Cache struct {
	vectors vectorstore.Store
	rows    repository.SemanticCacheRepository
	redis   *redis.Client
	enabled bool
}

func NewCache(vectors vectorstore.Store, rows repository.SemanticCacheRepository, redisClient *redis.Client) *Cache {
	return &Cache{vectors: vectors, rows: rows, redis: redisClient, enabled: true}
}

// SetEnabled toggles lookups on or off. The auto-tuner (C15) calls this when
// it decides `disable_semantic_cache`; writes continue regardless, so the
// cache can warm back up the moment it's re-enabled.
func (c *Cache) SetEnabled(enabled bool) { c.enabled = enabled }

// Lookup probes the Cache collection for the single highest-similarity
// entry at or above threshold. A disabled cache or a clean miss both return
// (nil, nil) — only a transport failure returns an error.
func (c *Cache) Lookup(ctx context.Context, queryVector []float32, threshold float64) (*Hit, error) {
	if !c.enabled {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	hits, err := c.vectors.NearVector(ctx, vectorstore.CollectionCache, queryVector, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Similarity < threshold {
		return nil, nil
	}

	best := hits[0]
	cacheID, err := uuid.Parse(best.Record.SourceID)
	if err != nil {
		return nil, err
	}

	c.recalibrateAsync(cacheID)

	return &Hit{
		CacheID:        cacheID,
		AnswerSummary:  stringExtra(best.Record.Extra, "answer_summary"),
		CanonicalQuery: best.Record.Content,
		OriginalAgent:  stringExtra(best.Record.Extra, "original_agent"),
		Similarity:     best.Similarity,
	}, nil
}

// recalibrateAsync bumps usage_count/last_used_at without blocking the read
// path, per spec.md §4.9 ("the read path does not block on it"). When a
// Redis client is configured the bump is queued there first so a burst of
// concurrent hits on the same entry coalesces into one relational write
// per flush interval instead of one UPDATE per request; without Redis it
// falls back to a direct detached update.
func (c *Cache) recalibrateAsync(cacheID uuid.UUID) {
	go func() {
		ctx := context.Background()
		now := time.Now().UTC()

		if c.redis != nil {
			key := "semcache:pending_hits:" + cacheID.String()
			if err := c.redis.Incr(ctx, key).Err(); err == nil {
				c.redis.Expire(ctx, key, time.Hour)
				return
			}
			// redis unavailable: fall through to a direct write.
		}

		if err := c.rows.RecordHit(ctx, cacheID, now); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"cache_id": cacheID.String(), "reason": "async usage recalibration"})
		}
	}()
}

// WriteInput carries the fields needed to persist a fresh cache entry.
type WriteInput struct {
	UserID         uuid.UUID
	CanonicalQuery string
	AnswerSummary  string
	OriginalAgent  string
	Confidence     float64
	QueryVector    []float32
}

// WriteOnGeneration inserts a new cache entry after a successful fresh
// generation, per spec.md §4.9. usage_count and cost_savings both start at
// zero; the vector's source_id is the relational row's id, matching the
// convention used throughout the vector/relational pairing.
func (c *Cache) WriteOnGeneration(ctx context.Context, in WriteInput) error {
	cacheID := uuid.New()

	vectorID, err := c.vectors.Insert(ctx, vectorstore.CollectionCache, in.QueryVector, types.VectorRecord{
		Content:      in.CanonicalQuery,
		SourceID:     cacheID.String(),
		SourceType:   types.SourceTypeQAPair,
		UserID:       in.UserID.String(),
		PrivacyLevel: types.PrivacyInternal,
		CreatedAt:    time.Now().UTC(),
		Extra: map[string]any{
			"answer_summary": in.AnswerSummary,
			"original_agent": in.OriginalAgent,
		},
	})
	if err != nil {
		return err
	}

	entry := &types.SemanticCacheEntry{
		CacheID:              cacheID,
		UserID:               in.UserID,
		CanonicalQuery:       in.CanonicalQuery,
		AnswerSummary:        in.AnswerSummary,
		OriginalAgent:        in.OriginalAgent,
		ExtractionConfidence: in.Confidence,
		UsageCount:           0,
		CostSavingsUSD:       0,
		LastUsedAt:           time.Time{},
		CreatedAt:            time.Now().UTC(),
	}

	if err := c.rows.Create(ctx, entry); err != nil {
		if _, delErr := c.vectors.Delete(ctx, vectorstore.CollectionCache, vectorID); delErr != nil {
			logger.ErrorWithFields(ctx, delErr, map[string]any{"vector_id": vectorID, "reason": "rollback after cache row insert failure"})
		}
		return err
	}

	return nil
}

func stringExtra(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	s, _ := extra[key].(string)
	return s
}
