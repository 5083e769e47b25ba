package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

// ConversationRepository owns conversations and their message history. The
// (tenant, conversation, client_message_id) unique index on messages makes
// AppendMessage idempotent under client retry.
type ConversationRepository interface {
	Create(ctx context.Context, conv *types.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*types.Conversation, error)
	UpdateState(ctx context.Context, conversationID uuid.UUID, state types.ConversationState) error
	AppendMessage(ctx context.Context, msg *types.Message) error
	GetMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (*types.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.Message, error)
	CountMessagesSince(ctx context.Context, conversationID uuid.UUID, sinceVersion int) (int64, error)
	// ListByUser pages a user's conversations newest-first, for the
	// GET /conversations listing endpoint (spec.md §6).
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]types.Conversation, error)
	// AllMessages returns a conversation's full chronological history, for
	// the GET /conversations/{id} endpoint.
	AllMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error)
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *types.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*types.Conversation, error) {
	var conv types.Conversation
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fabricerrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &conv, nil
}

func (r *conversationRepository) UpdateState(ctx context.Context, conversationID uuid.UUID, state types.ConversationState) error {
	res := r.db.WithContext(ctx).Model(&types.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]any{
			"state_summary":             state.Summary,
			"state_entities":            state.Entities,
			"state_topic_stack":         state.TopicStack,
			"state_last_intent":         state.LastIntent,
			"state_summary_version":     state.SummaryVersion,
			"state_turns_since_summary": state.TurnsSinceSummary,
		})
	if res.Error != nil {
		return wrapRelationalErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fabricerrors.ErrNotFound
	}
	return nil
}

// AppendMessage relies on the unique index to make duplicate client message
// ids a no-op duplicate error rather than a second insert.
func (r *conversationRepository) AppendMessage(ctx context.Context, msg *types.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return wrapRelationalErr(err)
	}
	return nil
}

func (r *conversationRepository) GetMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (*types.Message, error) {
	var msg types.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return &msg, nil
}

func (r *conversationRepository) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.Message, error) {
	var msgs []types.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	// reverse into chronological order for callers assembling a prompt
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *conversationRepository) CountMessagesSince(ctx context.Context, conversationID uuid.UUID, sinceVersion int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, wrapRelationalErr(err)
	}
	return count, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return convs, nil
}

func (r *conversationRepository) AllMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error) {
	var msgs []types.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, wrapRelationalErr(err)
	}
	return msgs, nil
}
