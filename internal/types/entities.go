package types

import (
	"time"

	"github.com/google/uuid"
)

// FeedbackSummary is the denormalized rating rollup stored on a MemoryItem
// (and, by extension, on the query_history row it traces back to).
type FeedbackSummary struct {
	TotalRatings int     `json:"total_ratings"`
	AvgRating    float64 `json:"avg_rating"`
	ThumbsUp     int     `json:"thumbs_up"`
	ThumbsDown   int     `json:"thumbs_down"`
	Regenerates  int     `json:"regenerates"`
}

// User is a platform account. Soft-deactivated, never hard-deleted.
type User struct {
	UserID       uuid.UUID `json:"user_id" gorm:"column:user_id;primaryKey;type:uuid"`
	TenantID     string    `json:"tenant_id" gorm:"column:tenant_id;index"`
	Username     string    `json:"username"`
	Email        string    `json:"email" gorm:"uniqueIndex"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName pins the table name so gorm's pluralizer doesn't guess "users"
// vs "user" differently across dialects.
func (User) TableName() string { return "users" }

// MemoryItem is one unit of recall. The relational row is canonical; its
// vector counterpart in the Raw collection is subordinate and rebuildable.
type MemoryItem struct {
	MemoryID          uuid.UUID       `json:"memory_id" gorm:"column:memory_id;primaryKey;type:uuid"`
	UserID            uuid.UUID       `json:"user_id" gorm:"index;uniqueIndex:idx_user_content_hash"`
	TenantID          string          `json:"tenant_id" gorm:"index"`
	Content           string          `json:"content"`
	ContentHash       string          `json:"content_hash" gorm:"uniqueIndex:idx_user_content_hash"`
	EncryptedContent  []byte          `json:"-"`
	EmbeddingVectorID string          `json:"embedding_vector_id"`
	Tier              MemoryTier      `json:"tier"`
	Phase             string          `json:"phase"`
	Tags              []string        `json:"tags" gorm:"serializer:json"`
	PrivacyLevel      PrivacyLevel    `json:"privacy_level"`
	QAPollution       bool            `json:"qa_pollution"`
	Scores            ScoreBreakdown  `json:"scores" gorm:"embedded;embeddedPrefix:score_"`
	CRSScore          float64         `json:"crs_score"`
	AccessCount       int             `json:"access_count"`
	LastAccessed      *time.Time      `json:"last_accessed,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Metadata          map[string]any  `json:"metadata" gorm:"serializer:json"`
	FeedbackSummary   FeedbackSummary `json:"feedback_summary" gorm:"embedded;embeddedPrefix:feedback_"`
	ConfidenceScore   float64         `json:"confidence_score"`
	Flagged           bool            `json:"flagged"`
	FlaggedReason     string          `json:"flagged_reason,omitempty"`
}

func (MemoryItem) TableName() string { return "memory_items" }

// ScoreBreakdown carries the five CRS components alongside the composite so
// callers can explain a ranking decision without recomputing it.
type ScoreBreakdown struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Tier       float64 `json:"tier"`
	Feedback   float64 `json:"feedback"`
	Frequency  float64 `json:"frequency"`
	Composite  float64 `json:"composite"`
}

// ConversationState is the rolling summary bag kept per conversation.
type ConversationState struct {
	Summary           string            `json:"summary"`
	Entities          map[string]string `json:"entities" gorm:"serializer:json"`
	TopicStack        []string          `json:"topic_stack" gorm:"serializer:json"`
	LastIntent        Intent            `json:"last_intent"`
	SummaryVersion    int               `json:"summary_version"`
	TurnsSinceSummary int               `json:"turns_since_summary"`
}

// Conversation is an ordered sequence of Messages plus rolling State.
type Conversation struct {
	ConversationID uuid.UUID         `json:"conversation_id" gorm:"column:conversation_id;primaryKey;type:uuid"`
	TenantID       string            `json:"tenant_id" gorm:"index"`
	UserID         uuid.UUID         `json:"user_id" gorm:"index"`
	Agent          string            `json:"agent"`
	Title          string            `json:"title,omitempty"`
	State          ConversationState `json:"state" gorm:"embedded;embeddedPrefix:state_"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is one conversation turn. The composite (tenant, conversation,
// client_message_id) unique index makes writes idempotent on client retry.
type Message struct {
	MessageID       uuid.UUID      `json:"message_id" gorm:"column:message_id;primaryKey;type:uuid"`
	TenantID        string         `json:"tenant_id" gorm:"uniqueIndex:idx_conv_client_msg"`
	ConversationID  uuid.UUID      `json:"conversation_id" gorm:"index;uniqueIndex:idx_conv_client_msg"`
	ClientMessageID string         `json:"client_message_id,omitempty" gorm:"uniqueIndex:idx_conv_client_msg"`
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	TokenCount      int            `json:"token_count"`
	Metadata        map[string]any `json:"metadata" gorm:"serializer:json"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (Message) TableName() string { return "conversation_messages" }

// SemanticCacheEntry is a cached canonical-query answer plus its vector.
type SemanticCacheEntry struct {
	CacheID              uuid.UUID `json:"cache_id" gorm:"column:cache_id;primaryKey;type:uuid"`
	UserID               uuid.UUID `json:"user_id" gorm:"index"`
	CanonicalQuery       string    `json:"canonical_query"`
	AnswerSummary        string    `json:"answer_summary"`
	OriginalAgent        string    `json:"original_agent"`
	ExtractionConfidence float64   `json:"extraction_confidence"`
	UsageCount           int       `json:"usage_count"`
	CostSavingsUSD       float64   `json:"cost_savings_usd"`
	LastUsedAt           time.Time `json:"last_used_at"`
	CreatedAt            time.Time `json:"created_at"`
}

func (SemanticCacheEntry) TableName() string { return "semantic_cache_entries" }

// LatencyBreakdown separates a query's timing into its major phases.
type LatencyBreakdown struct {
	SearchMS int64 `json:"search_latency_ms"`
	LLMMS    int64 `json:"llm_latency_ms"`
	TotalMS  int64 `json:"total_latency_ms"`
}

// QueryMetrics is one row per query, written by the orchestrator.
type QueryMetrics struct {
	QueryID        uuid.UUID        `json:"query_id" gorm:"column:query_id;primaryKey;type:uuid"`
	TenantID       string           `json:"tenant_id" gorm:"index"`
	UserID         uuid.UUID        `json:"user_id" gorm:"index"`
	QueryText      string           `json:"query_text"`
	QueryHash      string           `json:"query_hash" gorm:"index"`
	Intent         Intent           `json:"intent"`
	AgentUsed      string           `json:"agent_used"`
	ResponseSource ResponseSource   `json:"response_source"`
	FinalAnswer    string           `json:"final_answer,omitempty"`
	Confidence     float64          `json:"confidence"`
	Latency        LatencyBreakdown `json:"latency" gorm:"embedded;embeddedPrefix:latency_"`
	InputTokens    int              `json:"input_tokens"`
	OutputTokens   int              `json:"output_tokens"`
	EstCostUSD     float64          `json:"est_cost_usd"`
	MemoriesUsed   []uuid.UUID      `json:"memories_used" gorm:"serializer:json;type:jsonb"`
	FeedbackID     *uuid.UUID       `json:"feedback_id,omitempty"`
	Enriched       bool             `json:"enriched"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (QueryMetrics) TableName() string { return "query_metrics" }

// Feedback is a monotonically-appended rating row; never mutated.
type Feedback struct {
	FeedbackID     uuid.UUID      `json:"feedback_id" gorm:"column:feedback_id;primaryKey;type:uuid"`
	QueryID        uuid.UUID      `json:"query_id" gorm:"index"`
	UserID         uuid.UUID      `json:"user_id" gorm:"index"`
	Rating         int            `json:"rating"`
	FeedbackType   FeedbackType   `json:"feedback_type"`
	ResponseSource ResponseSource `json:"response_source"`
	Comment        string         `json:"comment,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (Feedback) TableName() string { return "query_feedback" }

// AuditEvent is an append-only trace entry for ingress/transform/egress.
type AuditEvent struct {
	EventID            uuid.UUID      `json:"event_id" gorm:"column:event_id;primaryKey;type:uuid"`
	Kind               AuditKind      `json:"kind"`
	Source             string         `json:"source"`
	Operation          string         `json:"operation"`
	Destination        string         `json:"destination,omitempty"`
	ItemCount          int            `json:"item_count"`
	DataClassification PrivacyLevel   `json:"data_classification"`
	Metadata           map[string]any `json:"metadata" gorm:"serializer:json"`
	Timestamp          time.Time      `json:"timestamp"`
}

func (AuditEvent) TableName() string { return "audit_logs" }

// OAuthTokenRecord stores a provider's OAuth token pair, always ciphertext
// at rest under the master secret.
type OAuthTokenRecord struct {
	Provider          string     `json:"provider" gorm:"primaryKey"`
	UserID            uuid.UUID  `json:"user_id" gorm:"primaryKey"`
	AccessCiphertext  []byte     `json:"-"`
	RefreshCiphertext []byte     `json:"-"`
	Expiry            time.Time  `json:"expiry"`
	Scopes            []string   `json:"scopes" gorm:"serializer:json"`
	Email             string     `json:"email"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

func (OAuthTokenRecord) TableName() string { return "oauth_tokens" }

// VectorRecord is the generic shape persisted into any vector collection.
type VectorRecord struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	ContentHash  string         `json:"content_hash"`
	SourceID     string         `json:"source_id"`
	SourceType   SourceType     `json:"source_type"`
	UserID       string         `json:"user_id"`
	PrivacyLevel PrivacyLevel   `json:"privacy_level"`
	Tags         []string       `json:"tags"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// ScoredVector pairs a VectorRecord with its near_vector search distance.
type ScoredVector struct {
	Record     VectorRecord `json:"record"`
	Distance   float64      `json:"distance"`
	Similarity float64      `json:"similarity"`
}

// TopicSummary is a level-3 compaction rollup.
type TopicSummary struct {
	TopicSummaryID uuid.UUID      `json:"topic_summary_id" gorm:"column:topic_summary_id;primaryKey;type:uuid"`
	UserID         uuid.UUID      `json:"user_id" gorm:"index"`
	TenantID       string         `json:"tenant_id" gorm:"index"`
	Topic          string         `json:"topic" gorm:"index"`
	Summary        string         `json:"summary"`
	EntityMap      map[string]any `json:"entity_map" gorm:"serializer:json"`
	KnowledgeGaps  []string       `json:"knowledge_gaps" gorm:"serializer:json"`
	KnowledgeDepth int            `json:"knowledge_depth"`
	SourceEntryIDs []uuid.UUID    `json:"source_entry_ids" gorm:"serializer:json"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (TopicSummary) TableName() string { return "topic_summaries" }

// DomainMap is a level-4 cross-topic rollup.
type DomainMap struct {
	DomainMapID             uuid.UUID      `json:"domain_map_id" gorm:"column:domain_map_id;primaryKey;type:uuid"`
	UserID                  uuid.UUID      `json:"user_id" gorm:"index"`
	TenantID                string         `json:"tenant_id" gorm:"index"`
	DomainName              string         `json:"domain_name"`
	Topology                string         `json:"topology"`
	CrossTopicRelationships map[string]any `json:"cross_topic_relationships" gorm:"serializer:json"`
	Strengths               []string       `json:"strengths" gorm:"serializer:json"`
	Gaps                    []string       `json:"gaps" gorm:"serializer:json"`
	EmergingThemes          []string       `json:"emerging_themes" gorm:"serializer:json"`
	SourceTopicIDs          []uuid.UUID    `json:"source_topic_ids" gorm:"serializer:json"`
	CreatedAt               time.Time      `json:"created_at"`
}

func (DomainMap) TableName() string { return "domain_maps" }

// TuningDecision is a single auto-tuner analyzer's output.
type TuningDecision struct {
	Action     TuningAction   `json:"action"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
	Params     map[string]any `json:"params,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
}

// AutoTuningLogEntry is the persisted audit trail row for a TuningDecision.
// Per Open Question 5's resolution, this write is required, not advisory —
// a failure surfaces as ErrAuditFailure (logged) rather than being silently
// dropped, but it never rolls back the decision itself.
type AutoTuningLogEntry struct {
	LogID      uuid.UUID      `json:"log_id" gorm:"column:log_id;primaryKey;type:uuid"`
	Action     TuningAction   `json:"action"`
	Reason     string         `json:"reason"`
	OldValue   string         `json:"old_value"`
	NewValue   string         `json:"new_value"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (AutoTuningLogEntry) TableName() string { return "auto_tuning_log" }
