// Package orchestrator implements the agent router and ask() pipeline
// (C12): the end-to-end path from a raw query to a persisted, audited
// answer — cache probe, dual retrieval, ranking, privacy filtering, prompt
// assembly, agent invocation, quality gating, and the conversation/cache/
// metrics write-back that follows.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/memcortex/fabric/internal/audit"
	"github.com/memcortex/fabric/internal/autotuner"
	"github.com/memcortex/fabric/internal/conversation"
	"github.com/memcortex/fabric/internal/embedding"
	"github.com/memcortex/fabric/internal/llm"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/quality"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/retrieval"
	"github.com/memcortex/fabric/internal/scoring"
	"github.com/memcortex/fabric/internal/semcache"
	"github.com/memcortex/fabric/internal/telemetry"
	"github.com/memcortex/fabric/internal/types"
)

const (
	DefaultCtxLimit = 10
	MaxCtxLimit     = 20

	unableToAnswerText = "I'm unable to answer that right now."
)

// RankedSource is one retrieval hit surviving ranking and privacy
// filtering, normalized to the shape quality.Score and prompt assembly need.
type RankedSource struct {
	Kind      quality.SourceType
	CRS       types.ScoreBreakdown
	Cache     *retrieval.RawHit
	Knowledge *retrieval.KnowledgeHit
}

// FileRef names an attachment either inlined by the caller or resolved from
// object storage when InlineContent is empty and ObjectKey is set.
type FileRef struct {
	ObjectKey     string
	InlineContent string
}

// AskInput mirrors spec.md §4.11's ask() signature.
type AskInput struct {
	Query          string
	UserID         uuid.UUID
	TenantID       string
	ConversationID *uuid.UUID
	ManualAgent    string
	BypassCache    bool
	CtxLimit       int
	FileCtx        *FileRef
	// PrivacyFilter is the set of privacy levels the caller may receive;
	// LOCAL_ONLY is excluded unconditionally regardless of this set.
	PrivacyFilter []types.PrivacyLevel
}

// AskResult mirrors ask()'s return shape.
type AskResult struct {
	Answer            string
	Sources           []string
	Confidence        float64
	QueryID           uuid.UUID
	AgentUsed         string
	IntentDetected    types.Intent
	CacheStatus       string
	QualityValidation quality.Result
	MemoriesSearched  int
	EstCostUSD        float64
	PipelineTrace     []string
}

// Orchestrator wires every component the ask() pipeline touches.
type Orchestrator struct {
	queries      repository.QueryMetricsRepository
	conversations *conversation.Manager
	embedder     embedding.Embedder
	retriever    *retrieval.Retriever
	scorer       *scoring.Engine
	cache        *semcache.Cache
	chat         llm.Chat
	auditLog     *audit.Logger
	overrides    *autotuner.Overrides
	files        *FileStore
	tracer       trace.Tracer

	defaultAgent  string
	llmTimeout    time.Duration
	embedTimeout  time.Duration
	now           func() time.Time
}

type Config struct {
	DefaultAgent string
	LLMTimeout   time.Duration
	EmbedTimeout time.Duration
	// Tracer records each pipeline stage as a span when set; nil disables
	// tracing entirely (telemetry.StartStage is a no-op on a nil tracer).
	Tracer trace.Tracer
}

func New(
	queries repository.QueryMetricsRepository,
	conversations *conversation.Manager,
	embedder embedding.Embedder,
	retriever *retrieval.Retriever,
	scorer *scoring.Engine,
	cache *semcache.Cache,
	chat llm.Chat,
	auditLog *audit.Logger,
	overrides *autotuner.Overrides,
	files *FileStore,
	cfg Config,
) *Orchestrator {
	llmTimeout := cfg.LLMTimeout
	if llmTimeout <= 0 {
		llmTimeout = 90 * time.Second
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	return &Orchestrator{
		queries:       queries,
		conversations: conversations,
		embedder:      embedder,
		retriever:     retriever,
		scorer:        scorer,
		cache:         cache,
		chat:          chat,
		auditLog:      auditLog,
		overrides:     overrides,
		files:         files,
		tracer:        cfg.Tracer,
		defaultAgent:  cfg.DefaultAgent,
		llmTimeout:    llmTimeout,
		embedTimeout:  embedTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ask runs the full pipeline. It never returns an error for a downstream
// failure it can degrade past (embedding/LLM timeouts fall back to a safe
// answer per step 10); it returns an error only when the query cannot even
// be recorded or the conversation/user context is invalid.
func (o *Orchestrator) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	trace := make([]string, 0, 16)
	ctxLimit := in.CtxLimit
	if ctxLimit <= 0 {
		ctxLimit = DefaultCtxLimit
	}
	if ctxLimit > MaxCtxLimit {
		ctxLimit = MaxCtxLimit
	}

	// Step 1: persist the pending query row, obtain query_id.
	queryID := uuid.New()
	metrics := &types.QueryMetrics{
		QueryID:        queryID,
		TenantID:       in.TenantID,
		UserID:         in.UserID,
		QueryText:      in.Query,
		ResponseSource: types.ResponseSourcePending,
		CreatedAt:      o.now(),
		UpdatedAt:      o.now(),
	}
	if err := o.queries.Create(ctx, metrics); err != nil {
		return nil, fmt.Errorf("orchestrator: persisting query row: %w", err)
	}
	trace = append(trace, "query_persisted")

	result := &AskResult{QueryID: queryID}
	searchStart := o.now()

	// Step 2: load thread context.
	var thread *conversation.ThreadContext
	conversationID, err := o.conversations.GetOrCreate(ctx, in.TenantID, in.UserID, in.ConversationID, in.ManualAgent)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "load_thread_context"})
	} else {
		thread, err = o.conversations.LoadContext(ctx, conversationID, 0)
		if err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "load_thread_context"})
		}
	}
	trace = append(trace, "thread_loaded")

	// Step 3: classify intent (metadata only).
	intent := ClassifyIntent(in.Query)
	metrics.Intent = intent
	result.IntentDetected = intent
	trace = append(trace, "intent_classified")

	// Step 4: embed the query once.
	embedStageCtx, endEmbedStage := telemetry.StartStage(ctx, o.tracer, "embed_query")
	embedCtx, cancel := context.WithTimeout(embedStageCtx, o.embedTimeout)
	embedded, err := o.embedder.Embed(embedCtx, in.Query)
	cancel()
	endEmbedStage(err)
	if err != nil {
		return o.finalizeUnanswerable(ctx, metrics, result, trace, searchStart, fmt.Errorf("embedding query: %w", err))
	}
	trace = append(trace, "query_embedded")

	// Step 5: semantic cache probe.
	if !in.BypassCache {
		cacheStageCtx, endCacheStage := telemetry.StartStage(ctx, o.tracer, "semantic_cache_lookup")
		hit, err := o.cache.Lookup(cacheStageCtx, embedded.Vector, 0)
		endCacheStage(err)
		if err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "cache_lookup"})
		} else if hit != nil {
			trace = append(trace, "cache_hit")
			return o.finalizeCacheHit(ctx, metrics, result, trace, searchStart, hit)
		}
	}
	trace = append(trace, "cache_miss")

	// Step 6: dual retrieval + ranking.
	retrievalStageCtx, endRetrievalStage := telemetry.StartStage(ctx, o.tracer, "dual_retrieval")
	cacheHits, knowledgeHits := o.retriever.Search(retrievalStageCtx, embedded.Vector, retrieval.Params{UserID: in.UserID.String()})
	endRetrievalStage(nil)
	result.MemoriesSearched = len(cacheHits) + len(knowledgeHits)
	ranked := o.rankSources(cacheHits, knowledgeHits)
	trace = append(trace, "retrieved_and_ranked")

	// Step 7: privacy filter.
	ranked = filterByPrivacy(ranked, in.PrivacyFilter)
	trace = append(trace, "privacy_filtered")

	if len(ranked) > ctxLimit {
		ranked = ranked[:ctxLimit]
	}

	// Step 8: assemble prompt.
	fileCtx := o.resolveFileCtx(ctx, in.FileCtx)
	var rankedCache []retrieval.RawHit
	var rankedKnowledge []retrieval.KnowledgeHit
	var sourceIDs []string
	var sources []quality.Source
	for _, r := range ranked {
		if r.Cache != nil {
			rankedCache = append(rankedCache, *r.Cache)
			sourceIDs = append(sourceIDs, r.Cache.ID)
			sources = append(sources, quality.Source{Type: quality.SourceConversation})
		}
		if r.Knowledge != nil {
			rankedKnowledge = append(rankedKnowledge, *r.Knowledge)
			sourceIDs = append(sourceIDs, r.Knowledge.ID)
			sources = append(sources, quality.Source{Type: quality.SourceDocument})
		}
	}
	prompt := assemblePrompt(in.Query, thread, rankedCache, rankedKnowledge, fileCtx)
	trace = append(trace, "prompt_assembled")

	// Step 9: choose the agent.
	agent := in.ManualAgent
	if agent == "" {
		agent = o.overrides.DefaultModel(o.defaultAgent)
	}
	metrics.AgentUsed = agent
	result.AgentUsed = agent

	// Step 10: invoke the agent, run concurrently with the pre-call egress
	// audit write so a slow audit append doesn't add to the LLM latency.
	searchLatency := o.now().Sub(searchStart)
	llmStart := o.now()

	llmStageCtx, endLLMStage := telemetry.StartStage(ctx, o.tracer, "agent_invoke")
	llmCtx, llmCancel := context.WithTimeout(llmStageCtx, o.llmTimeout)
	defer llmCancel()

	var resp llm.Response
	var llmErr error
	g, gctx := errgroup.WithContext(llmCtx)
	g.Go(func() error {
		resp, llmErr = o.chat.Complete(gctx, llm.Request{
			Model:    agent,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		return nil
	})
	g.Go(func() error {
		o.auditLog.LogEgress(ctx, "orchestrator", "agent_invoke", agent, 1, types.PrivacyInternal, map[string]any{"query_id": queryID.String()})
		return nil
	})
	_ = g.Wait()
	endLLMStage(llmErr)

	llmLatency := o.now().Sub(llmStart)

	answer := unableToAnswerText
	var qualityResult quality.Result
	if llmErr != nil {
		logger.ErrorWithFields(ctx, llmErr, map[string]any{"query_id": queryID.String(), "step": "agent_invoke"})
		trace = append(trace, "agent_invoke_failed")
	} else {
		answer = resp.Text
		trace = append(trace, "agent_invoked")
		// Step 11: quality gate.
		qualityResult = quality.Score(answer, sources, in.Query)
	}
	result.QualityValidation = qualityResult
	result.Answer = answer
	result.Confidence = qualityResult.ConfidenceScore
	result.Sources = sourceIDs
	result.EstCostUSD = resp.CostUSD

	// Step 12: append conversation turns.
	if conversationID != uuid.Nil {
		if _, err := o.conversations.AppendTurn(ctx, conversation.AppendTurnInput{
			TenantID: in.TenantID, ConversationID: conversationID, Role: types.RoleUser, Content: in.Query,
		}); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "append_user_turn"})
		}
		if _, err := o.conversations.AppendTurn(ctx, conversation.AppendTurnInput{
			TenantID: in.TenantID, ConversationID: conversationID, Role: types.RoleAssistant, Content: answer,
		}); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "append_assistant_turn"})
		}
		if _, err := o.conversations.UpdateSummaryIfNeeded(ctx, conversationID, false); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "update_summary"})
		}
	}
	trace = append(trace, "turns_appended")

	// Step 13: write back query_history.
	memoryIDs := make([]uuid.UUID, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if parsed, err := uuid.Parse(id); err == nil {
			memoryIDs = append(memoryIDs, parsed)
		}
	}
	metrics.FinalAnswer = answer
	metrics.ResponseSource = responseSourceFor(agent, llmErr)
	metrics.Confidence = qualityResult.ConfidenceScore
	metrics.Latency = types.LatencyBreakdown{
		SearchMS: searchLatency.Milliseconds(),
		LLMMS:    llmLatency.Milliseconds(),
		TotalMS:  o.now().Sub(searchStart).Milliseconds(),
	}
	metrics.InputTokens = resp.InputTokens
	metrics.OutputTokens = resp.OutputTokens
	metrics.EstCostUSD = resp.CostUSD
	metrics.MemoriesUsed = memoryIDs
	metrics.UpdatedAt = o.now()
	if err := o.queries.Update(ctx, metrics); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "write_back_metrics"})
	}
	trace = append(trace, "metrics_written")

	// Step 14: write a fresh cache entry iff should_store.
	if qualityResult.ShouldStore {
		if err := o.cache.WriteOnGeneration(ctx, semcache.WriteInput{
			UserID:         in.UserID,
			CanonicalQuery: in.Query,
			AnswerSummary:  answer,
			OriginalAgent:  agent,
			Confidence:     qualityResult.ConfidenceScore,
			QueryVector:    embedded.Vector,
		}); err != nil {
			logger.ErrorWithFields(ctx, err, map[string]any{"query_id": queryID.String(), "step": "cache_write"})
		} else {
			trace = append(trace, "cache_written")
		}
	}

	result.CacheStatus = "miss"
	result.PipelineTrace = trace
	return result, nil
}

func (o *Orchestrator) finalizeCacheHit(ctx context.Context, metrics *types.QueryMetrics, result *AskResult, trace []string, searchStart time.Time, hit *semcache.Hit) (*AskResult, error) {
	metrics.FinalAnswer = hit.AnswerSummary
	metrics.ResponseSource = types.ResponseSourceSemanticCache
	metrics.Confidence = hit.Similarity
	metrics.AgentUsed = hit.OriginalAgent
	metrics.Latency = types.LatencyBreakdown{SearchMS: o.now().Sub(searchStart).Milliseconds()}
	metrics.EstCostUSD = 0
	metrics.UpdatedAt = o.now()
	if err := o.queries.Update(ctx, metrics); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"query_id": metrics.QueryID.String(), "step": "write_back_metrics_cache_hit"})
	}

	result.Answer = hit.AnswerSummary
	result.Confidence = hit.Similarity
	result.AgentUsed = hit.OriginalAgent
	result.CacheStatus = "semantic_cache_hit"
	result.EstCostUSD = 0
	result.MemoriesSearched = 0
	result.PipelineTrace = append(trace, "cache_write_back_done")
	return result, nil
}

func (o *Orchestrator) finalizeUnanswerable(ctx context.Context, metrics *types.QueryMetrics, result *AskResult, trace []string, searchStart time.Time, cause error) (*AskResult, error) {
	logger.ErrorWithFields(ctx, cause, map[string]any{"query_id": metrics.QueryID.String(), "step": "unanswerable"})
	metrics.FinalAnswer = unableToAnswerText
	metrics.ResponseSource = types.ResponseSourceError
	metrics.Latency = types.LatencyBreakdown{SearchMS: o.now().Sub(searchStart).Milliseconds()}
	metrics.UpdatedAt = o.now()
	if err := o.queries.Update(ctx, metrics); err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"query_id": metrics.QueryID.String(), "step": "write_back_metrics_unanswerable"})
	}
	result.Answer = unableToAnswerText
	result.CacheStatus = "miss"
	result.PipelineTrace = append(trace, "unanswerable")
	return result, nil
}

// rankSources computes a CRS for every retrieved hit and sorts descending.
// Cache hits carry no creation timestamp from the retriever, so recency is
// scored at "now" (no decay) and tier at LONG (a cache entry survived to
// recall) — a cache hit's overall rank is driven almost entirely by
// similarity, same intent as the semantic cache's own higher threshold.
// Neither hit type carries a real feedback rating at retrieval time (their
// Confidence/ConfidenceScore fields are extraction/cache confidence, not a
// user rating), so feedback is passed as nil and the scorer falls back to
// its neutral 0.5.
func (o *Orchestrator) rankSources(cacheHits []retrieval.RawHit, knowledgeHits []retrieval.KnowledgeHit) []RankedSource {
	now := o.now()
	out := make([]RankedSource, 0, len(cacheHits)+len(knowledgeHits))

	for i := range cacheHits {
		hit := cacheHits[i]
		breakdown := o.scorer.Score(hit.Similarity, now, now, types.TierLong, nil, 0)
		out = append(out, RankedSource{Kind: quality.SourceConversation, CRS: breakdown, Cache: &hit})
	}
	for i := range knowledgeHits {
		hit := knowledgeHits[i]
		breakdown := o.scorer.Score(hit.Similarity, now, now, types.TierMid, nil, 0)
		out = append(out, RankedSource{Kind: quality.SourceDocument, CRS: breakdown, Knowledge: &hit})
	}

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].CRS.Composite < out[j].CRS.Composite; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// filterByPrivacy drops sources outside the caller's requested filter.
// LOCAL_ONLY is excluded unconditionally per spec.md §4.11 step 7, even if
// the caller's filter explicitly names it — there is no override for this.
func filterByPrivacy(sources []RankedSource, allowed []types.PrivacyLevel) []RankedSource {
	allowedSet := make(map[types.PrivacyLevel]bool, len(allowed))
	for _, lvl := range allowed {
		allowedSet[lvl] = true
	}
	unrestricted := len(allowed) == 0

	out := sources[:0]
	for _, s := range sources {
		level := sourceLevel(s)
		if level == types.PrivacyLocalOnly {
			continue
		}
		if unrestricted || allowedSet[level] {
			out = append(out, s)
		}
	}
	return out
}

func sourceLevel(s RankedSource) types.PrivacyLevel {
	if s.Cache != nil {
		return s.Cache.PrivacyLevel
	}
	if s.Knowledge != nil {
		return s.Knowledge.PrivacyLevel
	}
	return types.PrivacyInternal
}

func (o *Orchestrator) resolveFileCtx(ctx context.Context, ref *FileRef) string {
	if ref == nil {
		return ""
	}
	if ref.InlineContent != "" {
		return ref.InlineContent
	}
	if ref.ObjectKey == "" || o.files == nil {
		return ""
	}
	content, err := o.files.Fetch(ctx, ref.ObjectKey)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"object_key": ref.ObjectKey, "step": "resolve_file_ctx"})
		return ""
	}
	return content
}

func responseSourceFor(agent string, llmErr error) types.ResponseSource {
	if llmErr != nil {
		return types.ResponseSourceError
	}
	return types.ResponseSource(agent)
}
