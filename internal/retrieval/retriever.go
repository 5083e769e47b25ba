// Package retrieval implements the dual memory retriever (C7): a query
// vector is searched against the Raw (cache) and Knowledge collections in
// parallel, each leg isolated from the other's failure, and each leg's hits
// shaped into the caller-facing form spec.md §4.6 describes.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/types"
	"github.com/memcortex/fabric/internal/vectorstore"
)

const (
	DefaultCacheLimit         = 5
	DefaultKnowledgeLimit     = 10
	DefaultCacheThreshold     = 0.85
	DefaultKnowledgeThreshold = 0.60
)

// RawHit is a decoded Raw-collection (cache) result. Content stored in the
// "Q: ...\nA: ..." shape is split into its question/answer halves; anything
// else is passed through verbatim as CanonicalQuery with no answer.
type RawHit struct {
	ID                string
	CanonicalQuery    string
	SummarizedAnswer  string
	ConfidenceScore   float64
	Similarity        float64
	Distance          float64
	OriginalAgent     string
	PrivacyLevel      types.PrivacyLevel
}

// KnowledgeHit is a decoded Knowledge-collection result.
type KnowledgeHit struct {
	ID              string
	Content         string
	Confidence      float64
	Tags            []string
	TopicCluster    string
	PrimaryIntent   string
	Similarity      float64
	Distance        float64
	PrivacyLevel    types.PrivacyLevel
	Verified        bool
}

// Params carries the tunable limits/thresholds a caller may override; a
// zero value for any field falls back to its Default* constant.
type Params struct {
	UserID             string
	CacheLimit         int
	KnowledgeLimit     int
	CacheThreshold     float64
	KnowledgeThreshold float64
}

func (p Params) withDefaults() Params {
	if p.CacheLimit <= 0 {
		p.CacheLimit = DefaultCacheLimit
	}
	if p.KnowledgeLimit <= 0 {
		p.KnowledgeLimit = DefaultKnowledgeLimit
	}
	if p.CacheThreshold <= 0 {
		p.CacheThreshold = DefaultCacheThreshold
	}
	if p.KnowledgeThreshold <= 0 {
		p.KnowledgeThreshold = DefaultKnowledgeThreshold
	}
	return p
}

// Retriever runs the dual search over a vector store.
type Retriever struct {
	store vectorstore.Store
}

func NewRetriever(store vectorstore.Store) *Retriever {
	return &Retriever{store: store}
}

// Search runs the cache and knowledge legs concurrently. Neither leg's
// error reaches the caller: a failed leg logs and returns an empty slice,
// matching dual_memory.py's search_dual, which never lets one collection's
// outage blank the other's results.
func (r *Retriever) Search(ctx context.Context, queryVector []float32, params Params) ([]RawHit, []KnowledgeHit) {
	params = params.withDefaults()

	var rawHits []RawHit
	var knowledgeHits []KnowledgeHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rawHits = r.searchCache(gctx, queryVector, params.CacheLimit, params.CacheThreshold)
		return nil
	})
	g.Go(func() error {
		knowledgeHits = r.searchKnowledge(gctx, queryVector, params.UserID, params.KnowledgeLimit, params.KnowledgeThreshold)
		return nil
	})
	// both legs swallow their own errors internally; Wait never returns one.
	_ = g.Wait()

	return rawHits, knowledgeHits
}

func (r *Retriever) searchCache(ctx context.Context, queryVector []float32, limit int, threshold float64) []RawHit {
	hits, err := r.store.NearVector(ctx, vectorstore.CollectionRaw, queryVector, limit*2, nil)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"leg": "cache", "collection": string(vectorstore.CollectionRaw)})
		return nil
	}

	out := make([]RawHit, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		canonicalQuery, summarizedAnswer := splitQA(h.Record.Content)
		out = append(out, RawHit{
			ID:               h.ID,
			CanonicalQuery:   canonicalQuery,
			SummarizedAnswer: summarizedAnswer,
			ConfidenceScore:  h.Similarity,
			Similarity:       h.Similarity,
			Distance:         h.Distance,
			OriginalAgent:    stringExtra(h.Record.Extra, "agent"),
			PrivacyLevel:     h.Record.PrivacyLevel,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Retriever) searchKnowledge(ctx context.Context, queryVector []float32, userID string, limit int, threshold float64) []KnowledgeHit {
	hits, err := r.store.NearVector(ctx, vectorstore.CollectionKnowledge, queryVector, limit*2, nil)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"leg": "knowledge", "collection": string(vectorstore.CollectionKnowledge)})
		return nil
	}

	out := make([]KnowledgeHit, 0, len(hits))
	for _, h := range hits {
		// an empty record user_id means "shared/global knowledge" and is kept
		// regardless of the caller's user_id, mirroring dual_memory.py's
		// optional user_id match.
		if userID != "" && h.Record.UserID != "" && h.Record.UserID != userID {
			continue
		}
		if h.Similarity < threshold {
			continue
		}

		canonicalQuery := stringExtra(h.Record.Extra, "canonical_query")
		answerSummary := stringExtra(h.Record.Extra, "answer_summary")
		content := canonicalQuery + "\n" + answerSummary

		out = append(out, KnowledgeHit{
			ID:            h.ID,
			Content:       content,
			Confidence:    floatExtra(h.Record.Extra, "extraction_confidence"),
			Tags:          stringSliceExtra(h.Record.Extra, "related_topics"),
			TopicCluster:  stringExtra(h.Record.Extra, "topic_cluster"),
			PrimaryIntent: stringExtra(h.Record.Extra, "primary_intent"),
			Similarity:    h.Similarity,
			Distance:      h.Distance,
			PrivacyLevel:  types.PrivacyPublic, // knowledge entries are derived/extracted, never raw-private
			Verified:      true,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// splitQA decodes the "Q: ...\nA: ..." format memory_crud.py's writer may
// have produced; content without both markers passes through as-is with no
// answer half.
func splitQA(content string) (canonicalQuery, summarizedAnswer string) {
	if !strings.Contains(content, "Q:") || !strings.Contains(content, "A:") {
		return content, ""
	}
	parts := strings.SplitN(content, "A:", 2)
	canonicalQuery = strings.TrimSpace(strings.Replace(parts[0], "Q:", "", 1))
	canonicalQuery = truncate(canonicalQuery, 500)
	if len(parts) > 1 {
		summarizedAnswer = truncate(strings.TrimSpace(parts[1]), 2000)
	}
	return canonicalQuery, summarizedAnswer
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stringExtra(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	s, _ := extra[key].(string)
	return s
}

func floatExtra(extra map[string]any, key string) float64 {
	if extra == nil {
		return 0
	}
	switch v := extra[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}

func stringSliceExtra(extra map[string]any, key string) []string {
	if extra == nil {
		return nil
	}
	switch v := extra[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
