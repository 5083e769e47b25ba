package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/feedback"
	"github.com/memcortex/fabric/internal/server"
	"github.com/memcortex/fabric/internal/types"
)

// FeedbackHandler serves POST /api/feedback, wrapping feedback.Aggregator.
type FeedbackHandler struct {
	aggregator *feedback.Aggregator
}

func NewFeedbackHandler(aggregator *feedback.Aggregator) *FeedbackHandler {
	return &FeedbackHandler{aggregator: aggregator}
}

type submitFeedbackRequest struct {
	QueryID      uuid.UUID          `json:"query_id" binding:"required"`
	Rating       int                `json:"rating" binding:"required"`
	FeedbackType types.FeedbackType `json:"feedback_type" binding:"required"`
	Comment      string             `json:"comment"`
}

// Submit handles POST /api/feedback.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fabricerrors.NewBadRequestError(err.Error()))
		return
	}

	result, err := h.aggregator.Submit(c.Request.Context(), feedback.SubmitInput{
		QueryID:      req.QueryID,
		UserID:       server.UserID(c),
		Rating:       req.Rating,
		FeedbackType: req.FeedbackType,
		Comment:      req.Comment,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
