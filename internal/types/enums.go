// Package types holds the entity and enum definitions shared across the
// memory fabric. Kinds that were dynamic field bags or duck-typed rows in the
// original implementation are closed Go types here.
package types

// PrivacyLevel gates whether an item may leave the system to an external
// agent. LocalOnly never does, regardless of the caller's requested filter.
type PrivacyLevel string

const (
	PrivacyPublic       PrivacyLevel = "PUBLIC"
	PrivacyInternal     PrivacyLevel = "INTERNAL"
	PrivacyConfidential PrivacyLevel = "CONFIDENTIAL"
	PrivacyLocalOnly    PrivacyLevel = "LOCAL_ONLY"
)

// Valid reports whether l is one of the four declared privacy levels.
func (l PrivacyLevel) Valid() bool {
	switch l {
	case PrivacyPublic, PrivacyInternal, PrivacyConfidential, PrivacyLocalOnly:
		return true
	}
	return false
}

// Description returns a human-readable sentence for UI/CLI surfaces.
func (l PrivacyLevel) Description() string {
	switch l {
	case PrivacyLocalOnly:
		return "Never leaves the system (credentials, API keys, secrets, PII)"
	case PrivacyConfidential:
		return "Manual review required (sensitive discussions, private data)"
	case PrivacyPublic:
		return "Safe to inject anywhere (docs, general knowledge, public code)"
	default:
		return "Your tools only (conversations, notes, personal context)"
	}
}

// Emoji returns a short glyph for the level, used in terminal/CLI output.
func (l PrivacyLevel) Emoji() string {
	switch l {
	case PrivacyLocalOnly:
		return "⛔"
	case PrivacyConfidential:
		return "🔐"
	case PrivacyPublic:
		return "🔓"
	default:
		return "🔒"
	}
}

// MemoryTier is the durability/importance class of a memory item.
type MemoryTier string

const (
	TierShort MemoryTier = "SHORT"
	TierMid   MemoryTier = "MID"
	TierLong  MemoryTier = "LONG"
)

func (t MemoryTier) Valid() bool {
	switch t {
	case TierShort, TierMid, TierLong:
		return true
	}
	return false
}

// TierWeight is the raw weight used by the ranking engine before it is
// linearly remapped into [0,1].
func (t MemoryTier) Weight() float64 {
	switch t {
	case TierLong:
		return 1.2
	case TierMid:
		return 1.0
	default:
		return 0.8
	}
}

// Role is a conversation turn's speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// UserRole is a platform account's authorization level.
type UserRole string

const (
	UserRolePublic UserRole = "public"
	UserRoleMember UserRole = "member"
	UserRoleAdmin  UserRole = "admin"
)

// FeedbackType is the kind of rating a user attaches to a query response.
type FeedbackType string

const (
	FeedbackThumbsUp   FeedbackType = "thumbs_up"
	FeedbackThumbsDown FeedbackType = "thumbs_down"
	FeedbackRegenerate FeedbackType = "regenerate"
)

func (f FeedbackType) Valid() bool {
	switch f {
	case FeedbackThumbsUp, FeedbackThumbsDown, FeedbackRegenerate:
		return true
	}
	return false
}

// AuditKind classifies an audit event by where in the pipeline it occurred.
type AuditKind string

const (
	AuditIngress   AuditKind = "ingress"
	AuditTransform AuditKind = "transform"
	AuditEgress    AuditKind = "egress"
)

// Intent is the cheap classifier's guess at what the caller is asking for.
// It biases agent selection only; it is never authoritative.
type Intent string

const (
	IntentFactual      Intent = "FACTUAL"
	IntentAnalysis     Intent = "ANALYSIS"
	IntentCreative     Intent = "CREATIVE"
	IntentResearch     Intent = "RESEARCH"
	IntentMemoryQuery  Intent = "MEMORY_QUERY"
	IntentConversation Intent = "CONVERSATION"
)

// CacheStatus reports how a query's answer was produced.
type CacheStatus string

const (
	CacheStatusFreshGeneration  CacheStatus = "fresh_generation"
	CacheStatusSemanticHit      CacheStatus = "semantic_cache_hit"
	CacheStatusHit              CacheStatus = "cache_hit"
	CacheStatusError            CacheStatus = "error"
)

// ResponseSource records which model/cache produced a query_history row's
// final answer. query_history is the single source of truth for this field;
// callers may not override it after the fact.
type ResponseSource string

const (
	ResponseSourcePending       ResponseSource = "pending"
	ResponseSourceError         ResponseSource = "error"
	ResponseSourceSemanticCache ResponseSource = "semantic_cache"
)

// TuningAction is the set of config-override mutations the auto-tuner may
// apply. Closed on purpose: the tuner must never invent a new override key.
type TuningAction string

const (
	ActionDisableSemanticCache TuningAction = "disable_semantic_cache"
	ActionSwitchModel          TuningAction = "switch_model"
	ActionReduceContextLimit   TuningAction = "reduce_context_limit"
	ActionIncreaseContextLimit TuningAction = "increase_context_limit"
)

// SourceType identifies which upstream channel a Raw-collection vector came
// from, mirroring the dual-memory retriever's decode path.
type SourceType string

const (
	SourceTypeMemory       SourceType = "memory"
	SourceTypeQAPair       SourceType = "qa_pair"
	SourceTypeConversation SourceType = "conversation"
)
