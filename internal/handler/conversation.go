package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memcortex/fabric/internal/conversation"
	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/server"
	"github.com/memcortex/fabric/internal/types"
)

// ConversationHandler serves the Conversation API spec.md §6 names: start a
// thread, list a user's threads, fetch one thread's full history, and
// append a turn to it. Start/append go through conversation.Manager for
// its idempotency and rolling-summary bookkeeping; list/get-history are
// plain relational reads.
type ConversationHandler struct {
	manager       *conversation.Manager
	conversations repository.ConversationRepository
}

func NewConversationHandler(manager *conversation.Manager, conversations repository.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{manager: manager, conversations: conversations}
}

type startConversationRequest struct {
	Agent string `json:"agent"`
}

// Start handles POST /api/conversations.
func (h *ConversationHandler) Start(c *gin.Context) {
	var req startConversationRequest
	_ = c.ShouldBindJSON(&req)

	conversationID, err := h.manager.GetOrCreate(c.Request.Context(), server.TenantID(c), server.UserID(c), nil, req.Agent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conversationID})
}

// List handles GET /api/conversations?limit=&offset=.
func (h *ConversationHandler) List(c *gin.Context) {
	limit, offset := parseLimitOffset(c)
	convs, err := h.conversations.ListByUser(c.Request.Context(), server.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": convs, "limit": limit, "offset": offset})
}

// Get handles GET /api/conversations/:id, returning the full message
// history rather than the rolling-summary view load_context assembles for
// the orchestrator.
func (h *ConversationHandler) Get(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fabricerrors.NewBadRequestError("conversation id must be a uuid"))
		return
	}

	conv, err := h.conversations.GetByID(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if conv.UserID != server.UserID(c) {
		respondError(c, fabricerrors.ErrNotFound)
		return
	}

	messages, err := h.conversations.AllMessages(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
}

type appendMessageRequest struct {
	Role            types.Role     `json:"role" binding:"required"`
	Content         string         `json:"content" binding:"required"`
	ClientMessageID string         `json:"client_message_id"`
	Metadata        map[string]any `json:"metadata"`
}

// AppendMessage handles POST /api/conversations/:id/messages.
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fabricerrors.NewBadRequestError("conversation id must be a uuid"))
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fabricerrors.NewBadRequestError(err.Error()))
		return
	}

	messageID, err := h.manager.AppendTurn(c.Request.Context(), conversation.AppendTurnInput{
		TenantID:        server.TenantID(c),
		ConversationID:  conversationID,
		Role:            req.Role,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
		Metadata:        req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_id": messageID})
}
