package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/memory"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/server"
	"github.com/memcortex/fabric/internal/types"
)

// MemoryHandler serves the Write API spec.md §6 names: create, update,
// delete, get, list, and search_by_tag, each a thin wrapper over
// memory.Writer plus the relational repository for the read-only paths
// (get/list/search_by_tag touch no encryption or vector-store state).
type MemoryHandler struct {
	writer *memory.Writer
	items  repository.MemoryItemRepository
}

func NewMemoryHandler(writer *memory.Writer, items repository.MemoryItemRepository) *MemoryHandler {
	return &MemoryHandler{writer: writer, items: items}
}

type createMemoryRequest struct {
	Content           string           `json:"content" binding:"required"`
	Tags              []string         `json:"tags"`
	Tier              types.MemoryTier `json:"tier" binding:"required"`
	Phase             string           `json:"phase"`
	PrivacyLevel      types.PrivacyLevel `json:"privacy_level"`
	AutoDetectPrivacy *bool            `json:"auto_detect_privacy"`
	Metadata          map[string]any   `json:"metadata"`
}

// Create handles POST /api/memory.
func (h *MemoryHandler) Create(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fabricerrors.NewBadRequestError(err.Error()))
		return
	}

	autoDetect := true
	if req.AutoDetectPrivacy != nil {
		autoDetect = *req.AutoDetectPrivacy
	}

	memoryID, err := h.writer.Create(c.Request.Context(), memory.CreateInput{
		UserID:            server.UserID(c),
		TenantID:          server.TenantID(c),
		Content:           req.Content,
		Tags:              req.Tags,
		Phase:             req.Phase,
		Tier:              req.Tier,
		PrivacyLevel:      req.PrivacyLevel,
		AutoDetectPrivacy: autoDetect,
		Metadata:          req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if memoryID == nil {
		c.JSON(http.StatusOK, gin.H{"memory_id": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memory_id": memoryID})
}

type updateMemoryRequest struct {
	Content      *string            `json:"content"`
	Tags         []string           `json:"tags"`
	Tier         types.MemoryTier   `json:"tier"`
	Phase        *string            `json:"phase"`
	PrivacyLevel types.PrivacyLevel `json:"privacy_level"`
	Metadata     map[string]any     `json:"metadata"`
}

// Update handles PUT /api/memory/:id.
func (h *MemoryHandler) Update(c *gin.Context) {
	memoryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fabricerrors.NewBadRequestError("memory id must be a uuid"))
		return
	}
	var req updateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fabricerrors.NewBadRequestError(err.Error()))
		return
	}
	err = h.writer.Update(c.Request.Context(), memoryID, memory.UpdateInput{
		Content:      req.Content,
		Tags:         req.Tags,
		Tier:         req.Tier,
		Phase:        req.Phase,
		PrivacyLevel: req.PrivacyLevel,
		Metadata:     req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /api/memory/:id. Per spec.md §6, the second delete
// of the same id surfaces 404 rather than a second 200 — Writer.Delete
// already returns ErrNotFound once the row is gone, so no special-casing is
// needed here.
func (h *MemoryHandler) Delete(c *gin.Context) {
	memoryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fabricerrors.NewBadRequestError("memory id must be a uuid"))
		return
	}
	if err := h.writer.Delete(c.Request.Context(), memoryID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Get handles GET /api/memory/:id.
func (h *MemoryHandler) Get(c *gin.Context) {
	memoryID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, fabricerrors.NewBadRequestError("memory id must be a uuid"))
		return
	}
	item, err := h.items.GetByID(c.Request.Context(), memoryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// List handles GET /api/memory?tier=&limit=&offset=.
func (h *MemoryHandler) List(c *gin.Context) {
	limit, offset := parseLimitOffset(c)
	tier := types.MemoryTier(c.Query("tier"))
	items, err := h.items.ListByUser(c.Request.Context(), server.UserID(c), tier, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// SearchByTag handles GET /api/memory/search?tag=&limit=&offset=.
func (h *MemoryHandler) SearchByTag(c *gin.Context) {
	tag := c.Query("tag")
	if tag == "" {
		respondError(c, fabricerrors.NewBadRequestError("tag query parameter is required"))
		return
	}
	limit, offset := parseLimitOffset(c)
	items, err := h.items.SearchByTag(c.Request.Context(), server.UserID(c), tag, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func parseLimitOffset(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
