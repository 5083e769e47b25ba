// Package conversation implements conversation memory (C11): rolling
// summary, last-N-turns, entity disambiguation, and topic tracking, giving
// the orchestrator continuity across turns in a thread.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

const (
	// MaxRecentTurns bounds how many turns load_context returns.
	MaxRecentTurns = 10
	// SummaryThreshold is how many turns accumulate before a regeneration
	// is due.
	SummaryThreshold = 6
	// summarizeWindow is how many trailing turns feed the compressor.
	summarizeWindow = 20
	// turnPreviewChars truncates each turn before it reaches the
	// compressor, matching conversation_memory.py's context budget.
	turnPreviewChars = 200
	// topicStackCap is the max depth of the topic stack.
	topicStackCap = 10
)

// Turn is one message as returned to a caller assembling a prompt.
type Turn struct {
	Role      types.Role
	Content   string
	MessageID uuid.UUID
	CreatedAt time.Time
}

// ThreadContext is the bundle the orchestrator uses to compose a prompt.
type ThreadContext struct {
	ConversationID uuid.UUID
	Summary        string
	Entities       map[string]string
	TopicStack     []string
	RecentTurns    []Turn
	TurnCount      int
}

// Summarizer compresses a window of turns into a rolling summary. Per the
// resolved Open Question on compression (spec.md §9.2), this is real LLM
// compression, not concatenation — the caller wires in a chat-model backed
// implementation; Manager owns none of the LLM plumbing itself.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, turns []Turn) (string, error)
}

// Manager owns the read/write operations over conversation state.
type Manager struct {
	conversations repository.ConversationRepository
	summarizer    Summarizer
}

func NewManager(conversations repository.ConversationRepository, summarizer Summarizer) *Manager {
	return &Manager{conversations: conversations, summarizer: summarizer}
}

// GetOrCreate validates a supplied conversation id against tenant/user and
// returns it unchanged when it matches; any mismatch (wrong owner, or no
// id supplied) creates a fresh conversation instead of erroring.
func (m *Manager) GetOrCreate(ctx context.Context, tenantID string, userID uuid.UUID, conversationID *uuid.UUID, agent string) (uuid.UUID, error) {
	if conversationID != nil {
		existing, err := m.conversations.GetByID(ctx, *conversationID)
		if err != nil && err != fabricerrors.ErrNotFound {
			return uuid.Nil, err
		}
		if existing != nil && existing.UserID == userID && existing.TenantID == tenantID {
			return existing.ConversationID, nil
		}
		if existing != nil {
			logger.Warn(ctx, "conversation access denied for requesting user, creating a new one instead")
		}
	}

	conv := &types.Conversation{
		ConversationID: uuid.New(),
		TenantID:       tenantID,
		UserID:         userID,
		Agent:          agent,
		State:          types.ConversationState{SummaryVersion: 1},
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := m.conversations.Create(ctx, conv); err != nil {
		return uuid.Nil, err
	}
	return conv.ConversationID, nil
}

// AppendTurnInput carries one turn to persist.
type AppendTurnInput struct {
	TenantID        string
	ConversationID  uuid.UUID
	Role            types.Role
	Content         string
	ClientMessageID string
	TokenCount      int
	Metadata        map[string]any
}

// AppendTurn is idempotent on (tenant, conversation, client_message_id):
// a retried client message id returns the previously stored row's id
// without creating a second one, and new content under a reused id is
// discarded rather than applied.
func (m *Manager) AppendTurn(ctx context.Context, in AppendTurnInput) (uuid.UUID, error) {
	if in.ClientMessageID != "" {
		existing, err := m.conversations.GetMessageByClientID(ctx, in.ConversationID, in.ClientMessageID)
		if err != nil {
			return uuid.Nil, err
		}
		if existing != nil {
			return existing.MessageID, nil
		}
	}

	conv, err := m.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return uuid.Nil, err
	}
	if conv.TenantID != in.TenantID {
		return uuid.Nil, fabricerrors.ErrNotFound
	}

	msg := &types.Message{
		MessageID:       uuid.New(),
		TenantID:        in.TenantID,
		ConversationID:  in.ConversationID,
		ClientMessageID: in.ClientMessageID,
		Role:            in.Role,
		Content:         in.Content,
		TokenCount:      in.TokenCount,
		Metadata:        in.Metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.conversations.AppendMessage(ctx, msg); err != nil {
		return uuid.Nil, err
	}

	conv.State.TurnsSinceSummary++
	if err := m.conversations.UpdateState(ctx, in.ConversationID, conv.State); err != nil {
		return uuid.Nil, err
	}

	return msg.MessageID, nil
}

// LoadContext returns the bundle the orchestrator assembles a prompt from.
// maxTurns<=0 falls back to MaxRecentTurns.
func (m *Manager) LoadContext(ctx context.Context, conversationID uuid.UUID, maxTurns int) (*ThreadContext, error) {
	if maxTurns <= 0 {
		maxTurns = MaxRecentTurns
	}

	conv, err := m.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	recent, err := m.conversations.RecentMessages(ctx, conversationID, maxTurns)
	if err != nil {
		return nil, err
	}
	turnCount, err := m.conversations.CountMessagesSince(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(recent))
	for _, msg := range recent {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content, MessageID: msg.MessageID, CreatedAt: msg.CreatedAt})
	}

	return &ThreadContext{
		ConversationID: conversationID,
		Summary:        conv.State.Summary,
		Entities:       conv.State.Entities,
		TopicStack:     conv.State.TopicStack,
		RecentTurns:    turns,
		TurnCount:      int(turnCount),
	}, nil
}

// UpdateSummaryIfNeeded regenerates the rolling summary when
// turns_since_summary has crossed SummaryThreshold, or unconditionally when
// force is set. A failed compression call leaves the prior summary and
// counter untouched so the next threshold crossing retries it.
func (m *Manager) UpdateSummaryIfNeeded(ctx context.Context, conversationID uuid.UUID, force bool) (bool, error) {
	conv, err := m.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if !force && conv.State.TurnsSinceSummary < SummaryThreshold {
		return false, nil
	}

	window := summarizeWindow
	recent, err := m.conversations.RecentMessages(ctx, conversationID, window)
	if err != nil {
		return false, err
	}
	if len(recent) == 0 {
		return false, nil
	}

	turns := make([]Turn, 0, len(recent))
	for _, msg := range recent {
		turns = append(turns, Turn{Role: msg.Role, Content: truncate(msg.Content, turnPreviewChars), MessageID: msg.MessageID, CreatedAt: msg.CreatedAt})
	}

	summary, err := m.summarizer.Summarize(ctx, conv.State.Summary, turns)
	if err != nil {
		logger.ErrorWithFields(ctx, err, map[string]any{"conversation_id": conversationID.String(), "reason": "summary compression failed, retaining prior summary"})
		return false, nil
	}

	conv.State.Summary = summary
	conv.State.TurnsSinceSummary = 0
	conv.State.SummaryVersion++

	if err := m.conversations.UpdateState(ctx, conversationID, conv.State); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateEntity sets a single key in the conversation's entity disambiguation
// state bag, e.g. clarifying which "NuBird" a pronoun refers to.
func (m *Manager) UpdateEntity(ctx context.Context, conversationID uuid.UUID, key, value string) error {
	conv, err := m.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.State.Entities == nil {
		conv.State.Entities = map[string]string{}
	}
	conv.State.Entities[key] = value
	return m.conversations.UpdateState(ctx, conversationID, conv.State)
}

// PushTopic appends a topic onto the stack, deduping a repeat at the top
// and capping depth at topicStackCap.
func (m *Manager) PushTopic(ctx context.Context, conversationID uuid.UUID, topic string) error {
	conv, err := m.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	stack := conv.State.TopicStack
	if len(stack) == 0 || stack[len(stack)-1] != topic {
		stack = append(stack, topic)
		if len(stack) > topicStackCap {
			stack = stack[len(stack)-topicStackCap:]
		}
	}
	conv.State.TopicStack = stack
	return m.conversations.UpdateState(ctx, conversationID, conv.State)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
