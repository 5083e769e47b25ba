// Package compaction implements the compaction engine (C13): two
// dollar-budgeted LLM synthesis passes that roll Level 2 knowledge entries
// up into Level 3 topic summaries, and Level 3 summaries up into Level 4
// domain maps — ported from the LSM-tree-style consolidation in
// original_source/src/jobs/knowledge_compaction.py.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/memcortex/fabric/internal/llm"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

const (
	MinEntriesForTopic  = 3
	MinTopicsForDomain  = 2
	DefaultBudgetUSD    = 0.50
	MaxEntriesPerBatch  = 100
	lookbackWindow      = 30 * 24 * time.Hour
	maxContentSnippets  = 20
	contentSnippetChars = 500
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// TopicResult mirrors the spec's {summary, entity_map, knowledge_gaps}
// LLM response schema.
type TopicResult struct {
	Summary       string         `json:"summary"`
	EntityMap     map[string]any `json:"entity_map"`
	KnowledgeGaps []string       `json:"knowledge_gaps"`
}

// DomainResult mirrors {domain_name, topology, cross_topic_relationships,
// strengths, gaps, emerging_themes}.
type DomainResult struct {
	DomainName              string         `json:"domain_name"`
	Topology                string         `json:"topology"`
	CrossTopicRelationships map[string]any `json:"cross_topic_relationships"`
	Strengths               []string       `json:"strengths"`
	Gaps                    []string       `json:"gaps"`
	EmergingThemes          []string       `json:"emerging_themes"`
}

var topicResultSchema = mustSchema(`{
	"type": "object",
	"required": ["summary", "entity_map", "knowledge_gaps"],
	"properties": {
		"summary": {"type": "string"},
		"entity_map": {"type": "object"},
		"knowledge_gaps": {"type": "array", "items": {"type": "string"}}
	}
}`)

var domainResultSchema = mustSchema(`{
	"type": "object",
	"required": ["domain_name", "topology", "cross_topic_relationships", "strengths", "gaps", "emerging_themes"],
	"properties": {
		"domain_name": {"type": "string"},
		"topology": {},
		"cross_topic_relationships": {},
		"strengths": {"type": "array"},
		"gaps": {"type": "array"},
		"emerging_themes": {"type": "array"}
	}
}`)

func mustSchema(raw string) *jsonschema.Resolved {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		panic(fmt.Sprintf("compaction: invalid embedded schema: %v", err))
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("compaction: resolving embedded schema: %v", err))
	}
	return resolved
}

// TopicResult is validated against topicResultSchema before it's persisted,
// matching spec.md §4.12's "validates the LLM's structured JSON response"
// requirement — a malformed synthesis is counted as an error and skipped,
// never written half-formed.
func validateTopicResult(raw map[string]any) error { return topicResultSchema.Validate(raw) }
func validateDomainResult(raw map[string]any) error { return domainResultSchema.Validate(raw) }

// Result is the summary-statistics shape both passes return — never an
// exception, per spec.md §4.12's partial-failure tolerance.
type Result struct {
	TopicsCreated      int
	DomainsCreated     int
	EntriesProcessed   int
	ClustersFound      int
	TopicsProcessed    int
	CostUSD            float64
	BudgetRemainingUSD float64
	Errors             int
}

// Compactor runs both passes. A single instance is safe for concurrent use
// across different users; per-run state (current spend) lives on the stack
// of each Compact* call, not on the struct, so concurrent runs for
// different users never share a budget counter.
type Compactor struct {
	memories repository.MemoryItemRepository
	topics   repository.TopicSummaryRepository
	domains  repository.DomainMapRepository
	chat     llm.Chat
	graph    *GraphMirror // optional; nil disables graph mirroring
	pool     *ants.Pool
	budget   float64
	now      func() time.Time
}

func NewCompactor(memories repository.MemoryItemRepository, topics repository.TopicSummaryRepository, domains repository.DomainMapRepository, chat llm.Chat, graph *GraphMirror, poolSize int, budgetUSD float64) (*Compactor, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("compaction: building synthesis pool: %w", err)
	}
	if budgetUSD <= 0 {
		budgetUSD = DefaultBudgetUSD
	}
	return &Compactor{
		memories: memories,
		topics:   topics,
		domains:  domains,
		chat:     chat,
		graph:    graph,
		pool:     pool,
		budget:   budgetUSD,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Compactor) Close() { c.pool.Release() }

// CompactToTopicSummaries is the Level 2 → 3 pass.
func (c *Compactor) CompactToTopicSummaries(ctx context.Context, userID uuid.UUID, tenantID string) (Result, error) {
	result := Result{BudgetRemainingUSD: c.budget}

	entries, err := c.memories.ListByUser(ctx, userID, types.TierMid, MaxEntriesPerBatch, 0)
	if err != nil {
		return result, err
	}
	cutoff := c.now().Add(-lookbackWindow)
	recent := entries[:0]
	for _, e := range entries {
		if e.CreatedAt.After(cutoff) {
			recent = append(recent, e)
		}
	}
	if len(recent) == 0 {
		logger.Info(ctx, "compaction: no entries to compact")
		return result, nil
	}
	result.EntriesProcessed = len(recent)

	clusters := clusterByTopic(recent)
	result.ClustersFound = len(clusters)

	compactable := make(map[string][]types.MemoryItem, len(clusters))
	for topic, items := range clusters {
		if len(items) >= MinEntriesForTopic {
			compactable[topic] = items
		}
	}
	logger.Infof(ctx, "compaction: %d compactable clusters from %d entries", len(compactable), len(recent))

	var spent float64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for topic, items := range compactable {
		mu.Lock()
		exhausted := spent >= c.budget
		mu.Unlock()
		if exhausted {
			logger.Warn(ctx, "compaction: synthesis budget exhausted, stopping topic pass")
			break
		}

		topic, items := topic, items
		wg.Add(1)
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			summary, cost, err := c.synthesizeTopic(ctx, topic, items, userID, tenantID)
			mu.Lock()
			defer mu.Unlock()
			spent += cost
			if err != nil {
				logger.Errorf(ctx, "compaction: topic synthesis for %q failed: %v", topic, err)
				result.Errors++
				return
			}
			if err := c.topics.Create(ctx, summary); err != nil {
				logger.Errorf(ctx, "compaction: persisting topic %q failed: %v", topic, err)
				result.Errors++
				return
			}
			if c.graph != nil {
				c.graph.MirrorTopic(ctx, summary)
			}
			result.TopicsCreated++
		})
		if submitErr != nil {
			wg.Done()
			result.Errors++
		}
	}
	wg.Wait()

	result.CostUSD = spent
	result.BudgetRemainingUSD = maxFloat(0, c.budget-spent)
	return result, nil
}

// CompactToDomainMaps is the Level 3 → 4 pass.
func (c *Compactor) CompactToDomainMaps(ctx context.Context, userID uuid.UUID, tenantID string) (Result, error) {
	result := Result{}

	topics, err := c.topics.ListByUser(ctx, userID, c.now().Add(-lookbackWindow), 50)
	if err != nil {
		return result, err
	}
	if len(topics) < MinTopicsForDomain {
		logger.Infof(ctx, "compaction: not enough topics for domain (%d < %d)", len(topics), MinTopicsForDomain)
		return result, nil
	}
	result.TopicsProcessed = len(topics)

	domain, cost, err := c.synthesizeDomain(ctx, topics, userID, tenantID)
	result.CostUSD = cost
	if err != nil {
		logger.Errorf(ctx, "compaction: domain synthesis failed: %v", err)
		result.Errors++
		return result, nil
	}

	if err := c.domains.Create(ctx, domain); err != nil {
		logger.Errorf(ctx, "compaction: persisting domain failed: %v", err)
		result.Errors++
		return result, nil
	}
	if c.graph != nil {
		topicIDs := make([]string, len(topics))
		for i, t := range topics {
			topicIDs[i] = t.TopicSummaryID.String()
		}
		c.graph.MirrorDomain(ctx, domain, topicIDs)
	}
	result.DomainsCreated++
	return result, nil
}

func (c *Compactor) synthesizeTopic(ctx context.Context, topic string, items []types.MemoryItem, userID uuid.UUID, tenantID string) (*types.TopicSummary, float64, error) {
	snippets := make([]string, 0, len(items))
	sourceIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		snippets = append(snippets, truncate(item.Content, contentSnippetChars))
		sourceIDs = append(sourceIDs, item.MemoryID)
	}

	resp, err := c.chat.Complete(ctx, llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: topicSynthesisPrompt(topic, snippets)}},
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, 0, err
	}

	parsed, err := parseJSONObject(resp.Text)
	if err != nil {
		return nil, resp.CostUSD, err
	}
	if err := validateTopicResult(parsed); err != nil {
		return nil, resp.CostUSD, fmt.Errorf("compaction: topic synthesis response failed schema validation: %w", err)
	}

	var result TopicResult
	if err := remarshal(parsed, &result); err != nil {
		return nil, resp.CostUSD, err
	}

	return &types.TopicSummary{
		TopicSummaryID: uuid.New(),
		UserID:         userID,
		TenantID:       tenantID,
		Topic:          topic,
		Summary:        result.Summary,
		EntityMap:      result.EntityMap,
		KnowledgeGaps:  result.KnowledgeGaps,
		KnowledgeDepth: len(items),
		SourceEntryIDs: sourceIDs,
		CreatedAt:      c.now(),
	}, resp.CostUSD, nil
}

func (c *Compactor) synthesizeDomain(ctx context.Context, topics []types.TopicSummary, userID uuid.UUID, tenantID string) (*types.DomainMap, float64, error) {
	resp, err := c.chat.Complete(ctx, llm.Request{
		Messages:  []llm.Message{{Role: "user", Content: domainSynthesisPrompt(topics)}},
		MaxTokens: 1500,
	})
	if err != nil {
		return nil, 0, err
	}

	parsed, err := parseJSONObject(resp.Text)
	if err != nil {
		return nil, resp.CostUSD, err
	}
	if err := validateDomainResult(parsed); err != nil {
		return nil, resp.CostUSD, fmt.Errorf("compaction: domain synthesis response failed schema validation: %w", err)
	}

	var result DomainResult
	if err := remarshal(parsed, &result); err != nil {
		return nil, resp.CostUSD, err
	}

	topicIDs := make([]uuid.UUID, len(topics))
	for i, t := range topics {
		topicIDs[i] = t.TopicSummaryID
	}

	topologyJSON, _ := json.Marshal(result.Topology)

	return &types.DomainMap{
		DomainMapID:             uuid.New(),
		UserID:                  userID,
		TenantID:                tenantID,
		DomainName:              result.DomainName,
		Topology:                string(topologyJSON),
		CrossTopicRelationships: result.CrossTopicRelationships,
		Strengths:               result.Strengths,
		Gaps:                    result.Gaps,
		EmergingThemes:          result.EmergingThemes,
		SourceTopicIDs:          topicIDs,
		CreatedAt:               c.now(),
	}, resp.CostUSD, nil
}

// clusterByTopic groups memory items by their first tag — the closest
// analog our schema has to the Python's dedicated primary_topic column,
// since memory items here carry a free-form Tags slice rather than a
// single topic field.
func clusterByTopic(items []types.MemoryItem) map[string][]types.MemoryItem {
	clusters := map[string][]types.MemoryItem{}
	for _, item := range items {
		if len(item.Tags) == 0 || item.Tags[0] == "" {
			continue
		}
		topic := item.Tags[0]
		clusters[topic] = append(clusters[topic], item)
	}
	return clusters
}

func topicSynthesisPrompt(topic string, snippets []string) string {
	limit := len(snippets)
	if limit > maxContentSnippets {
		limit = maxContentSnippets
	}
	body := ""
	for _, s := range snippets[:limit] {
		body += "- " + s + "\n"
	}
	return fmt.Sprintf(`Synthesize the following knowledge about %q into a coherent summary.

Knowledge entries:
%s
Respond as JSON with "summary" (2-3 sentences), "entity_map" (concept to related concepts), and "knowledge_gaps" (list of incomplete areas).`, topic, body)
}

func domainSynthesisPrompt(topics []types.TopicSummary) string {
	limit := len(topics)
	if limit > 10 {
		limit = 10
	}
	body := ""
	for _, t := range topics[:limit] {
		body += "- " + t.Topic + ": " + truncate(t.Summary, 200) + "\n"
	}
	return fmt.Sprintf(`Analyze these topic summaries and identify the overarching domain and relationships.

Topics:
%s
Respond as JSON with "domain_name", "topology", "cross_topic_relationships", "strengths", "gaps", and "emerging_themes".`, body)
}

func parseJSONObject(text string) (map[string]any, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("compaction: no JSON object in synthesis response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, fmt.Errorf("compaction: decoding synthesis JSON: %w", err)
	}
	return obj, nil
}

func remarshal(src map[string]any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
