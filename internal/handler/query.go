package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/orchestrator"
	"github.com/memcortex/fabric/internal/server"
	"github.com/memcortex/fabric/internal/types"
)

// QueryHandler serves the read path: POST /api/query runs the full ask()
// pipeline (C12) and returns its trace.
type QueryHandler struct {
	orch *orchestrator.Orchestrator
}

func NewQueryHandler(orch *orchestrator.Orchestrator) *QueryHandler {
	return &QueryHandler{orch: orch}
}

// askRequest mirrors spec.md §6's Query API input shape.
type askRequest struct {
	Question             string              `json:"question" binding:"required"`
	ContextLimit         int                 `json:"context_limit"`
	PrivacyFilter        []types.PrivacyLevel `json:"privacy_filter"`
	ConversationID       *uuid.UUID          `json:"conversation_id,omitempty"`
	ManualAgent          string              `json:"manual_agent,omitempty"`
	BypassCache          bool                `json:"bypass_cache"`
	FileContext          string              `json:"file_context,omitempty"`
	FileObjectKey        string              `json:"file_object_key,omitempty"`
	CrossSourceEnabled   bool                `json:"cross_source_enabled"`
}

// askResponse mirrors spec.md §6's Query API output shape: the analytics
// object is assembled here from the orchestrator's flatter AskResult so the
// wire contract matches the spec even though the internal type doesn't
// carry a nested struct for it.
type askResponse struct {
	Answer            string                `json:"answer"`
	Sources           []string              `json:"sources"`
	Confidence        float64               `json:"confidence"`
	QueryID           uuid.UUID             `json:"query_id"`
	Analytics         askAnalytics          `json:"analytics"`
	AgentUsed         string                `json:"agent_used"`
	IntentDetected    types.Intent          `json:"intent_detected"`
	CacheStatus       string                `json:"cache_status"`
	QualityValidation qualityValidationView `json:"quality_validation"`
	Pipeline          []string              `json:"pipeline"`
}

type askAnalytics struct {
	QueryID          uuid.UUID `json:"query_id"`
	EstCostUSD       float64   `json:"est_cost_usd"`
	MemoriesSearched int       `json:"memories_searched"`
	CacheHit         bool      `json:"cache_hit"`
}

type qualityValidationView struct {
	Confidence    float64 `json:"confidence"`
	ShouldStore   bool    `json:"should_store"`
	FlaggedReason string  `json:"flagged_reason,omitempty"`
}

// Ask handles POST /api/query.
func (h *QueryHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fabricerrors.NewBadRequestError(err.Error()))
		return
	}
	if req.ContextLimit > orchestrator.MaxCtxLimit {
		respondError(c, fabricerrors.NewValidationError("context_limit exceeds the maximum of 20"))
		return
	}

	var fileCtx *orchestrator.FileRef
	if req.FileContext != "" || req.FileObjectKey != "" {
		fileCtx = &orchestrator.FileRef{InlineContent: req.FileContext, ObjectKey: req.FileObjectKey}
	}

	result, err := h.orch.Ask(c.Request.Context(), orchestrator.AskInput{
		Query:          req.Question,
		UserID:         server.UserID(c),
		TenantID:       server.TenantID(c),
		ConversationID: req.ConversationID,
		ManualAgent:    req.ManualAgent,
		BypassCache:    req.BypassCache,
		CtxLimit:       req.ContextLimit,
		FileCtx:        fileCtx,
		PrivacyFilter:  req.PrivacyFilter,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, askResponse{
		Answer:      result.Answer,
		Sources:     result.Sources,
		Confidence:  result.Confidence,
		QueryID:     result.QueryID,
		AgentUsed:   result.AgentUsed,
		IntentDetected: result.IntentDetected,
		CacheStatus: result.CacheStatus,
		Analytics: askAnalytics{
			QueryID:          result.QueryID,
			EstCostUSD:       result.EstCostUSD,
			MemoriesSearched: result.MemoriesSearched,
			CacheHit:         result.CacheStatus != string(types.CacheStatusFreshGeneration) && result.CacheStatus != string(types.CacheStatusError),
		},
		QualityValidation: qualityValidationView{
			Confidence:    result.QualityValidation.ConfidenceScore,
			ShouldStore:   result.QualityValidation.ShouldStore,
			FlaggedReason: result.QualityValidation.FlaggedReason,
		},
		Pipeline: result.PipelineTrace,
	})
}
