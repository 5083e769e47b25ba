// Package errors defines the AppError type returned across the HTTP
// boundary, plus the internal sentinel error kinds raised by individual
// components and mapped to an AppError only at that boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the shape serialized to clients: a stable code, an HTTP
// status, and a message safe to display.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error for logging without leaking it to
// the client-facing Message.
func (e *AppError) WithCause(cause error) *AppError {
	clone := *e
	clone.cause = cause
	return &clone
}

func newAppError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func NewBadRequestError(message string) *AppError {
	return newAppError("bad_request", http.StatusBadRequest, message)
}

func NewValidationError(message string) *AppError {
	return newAppError("validation_error", http.StatusUnprocessableEntity, message)
}

func NewNotFoundError(message string) *AppError {
	return newAppError("not_found", http.StatusNotFound, message)
}

func NewUnauthorizedError(message string) *AppError {
	return newAppError("unauthorized", http.StatusUnauthorized, message)
}

func NewForbiddenError(message string) *AppError {
	return newAppError("forbidden", http.StatusForbidden, message)
}

func NewInternalServerError(message string) *AppError {
	return newAppError("internal_server_error", http.StatusInternalServerError, message)
}

// Internal sentinel errors. Components return these directly; only the
// handler layer translates them into an AppError (§7 propagation policy).
var (
	// ErrDuplicateContent is returned by the memory write path when
	// (user, content_hash) already exists. Not an error to the client: the
	// caller sees a nil memory id, not a 4xx/5xx.
	ErrDuplicateContent = errors.New("duplicate content")

	ErrNotFound = errors.New("not found")

	ErrValidation = errors.New("validation error")

	// ErrPrivacyViolation marks an item silently dropped from context
	// because it is LOCAL_ONLY and the egress target is external.
	ErrPrivacyViolation = errors.New("privacy violation")

	ErrAuth = errors.New("authentication error")

	ErrDecryption   = errors.New("decryption failed")
	ErrTamperDetected = errors.New("ciphertext authentication failed")

	ErrEmbedding      = errors.New("embedding provider error")
	ErrLLM            = errors.New("language model error")
	ErrVectorStore    = errors.New("vector store error")
	ErrRelational     = errors.New("relational store error")

	// ErrBudgetExhausted signals the compaction engine stopped cleanly
	// because its per-run dollar budget ran out.
	ErrBudgetExhausted = errors.New("synthesis budget exhausted")

	// ErrAuditFailure is always logged, never surfaced to a caller.
	ErrAuditFailure = errors.New("audit write failed")

	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Is is a re-export of the standard library's errors.Is so callers need only
// import this package for both sentinel values and comparison.
func Is(err, target error) bool { return errors.Is(err, target) }
