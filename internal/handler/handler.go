// Package handler implements the HTTP boundary's request/response shapes
// for the Query, Write (memory), Feedback, and Conversation APIs spec.md §6
// names, each a thin gin.HandlerFunc wrapping one of the core packages.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
)

// respondError maps an internal sentinel error (or an already-built
// *AppError) onto the HTTP response, per spec.md §7's propagation policy:
// everything except auth/validation degrades rather than raising past the
// handler.
func respondError(c *gin.Context, err error) {
	var appErr *fabricerrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status, gin.H{"code": appErr.Code, "message": appErr.Message})
		return
	}

	switch {
	case errors.Is(err, fabricerrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "resource not found"})
	case errors.Is(err, fabricerrors.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "validation_error", "message": err.Error()})
	case errors.Is(err, fabricerrors.ErrAuth):
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "authentication failed"})
	case errors.Is(err, fabricerrors.ErrDecryption), errors.Is(err, fabricerrors.ErrTamperDetected):
		logger.ErrorWithFields(c.Request.Context(), err, map[string]any{"step": "decrypt"})
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_server_error", "message": "content could not be decrypted"})
	default:
		logger.ErrorWithFields(c.Request.Context(), err, map[string]any{"step": "handler"})
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_server_error", "message": "an unexpected error occurred"})
	}
}
