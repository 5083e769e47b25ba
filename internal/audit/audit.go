// Package audit implements the append-only audit trail (C17): every
// ingress/transform/egress of classified data gets one row, and a write
// failure here is logged but never allowed to fail the operation it traces.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

// Event is the caller-facing shape; EventID and Timestamp are assigned by
// Emit, not the caller.
type Event struct {
	Kind               types.AuditKind
	Source             string
	Operation          string
	Destination        string
	ItemCount          int
	DataClassification types.PrivacyLevel
	Metadata           map[string]any
}

type Logger struct {
	repo  repository.AuditRepository
	index *SecondaryIndex
}

func NewLogger(repo repository.AuditRepository) *Logger {
	return &Logger{repo: repo}
}

// WithIndex attaches a secondary Elasticsearch index to an existing Logger.
// Passing nil is a no-op, so callers that never configured ES can skip this.
func (l *Logger) WithIndex(index *SecondaryIndex) *Logger {
	l.index = index
	return l
}

// Emit persists one audit row. Per spec.md §4.5/§9, a failure here is
// surfaced as ErrAuditFailure through the logger only — callers that already
// committed their primary operation must not roll back because the trail
// write failed.
func (l *Logger) Emit(ctx context.Context, e Event) {
	classification := e.DataClassification
	if classification == "" {
		classification = types.PrivacyInternal
	}
	event := &types.AuditEvent{
		EventID:            uuid.New(),
		Kind:               e.Kind,
		Source:             e.Source,
		Operation:          e.Operation,
		Destination:        e.Destination,
		ItemCount:          e.ItemCount,
		DataClassification: classification,
		Metadata:           e.Metadata,
		Timestamp:          time.Now().UTC(),
	}
	if err := l.repo.Append(ctx, event); err != nil {
		logger.ErrorWithFields(ctx, fabricerrors.ErrAuditFailure, map[string]any{
			"operation": e.Operation,
			"source":    e.Source,
			"cause":     err.Error(),
		})
	}
	if l.index != nil {
		l.index.mirror(ctx, event)
	}
}

// LogIngress records data entering the system from an external source.
func (l *Logger) LogIngress(ctx context.Context, source, op string, count int, classification types.PrivacyLevel, meta map[string]any) {
	l.Emit(ctx, Event{Kind: types.AuditIngress, Source: source, Operation: op, ItemCount: count, DataClassification: classification, Metadata: meta})
}

// LogTransform records an internal read/rank/mutate step on data already in
// the system.
func (l *Logger) LogTransform(ctx context.Context, source, op, dest string, count int, classification types.PrivacyLevel, meta map[string]any) {
	l.Emit(ctx, Event{Kind: types.AuditTransform, Source: source, Operation: op, Destination: dest, ItemCount: count, DataClassification: classification, Metadata: meta})
}

// LogEgress records data leaving the system's trust boundary — an external
// agent call, an export, a third-party API request.
func (l *Logger) LogEgress(ctx context.Context, source, op, dest string, count int, classification types.PrivacyLevel, meta map[string]any) {
	l.Emit(ctx, Event{Kind: types.AuditEgress, Source: source, Operation: op, Destination: dest, ItemCount: count, DataClassification: classification, Metadata: meta})
}

// ListSince returns every audit event at or after `since`, used by the
// audit review endpoint and the compaction engine's provenance checks.
func (l *Logger) ListSince(ctx context.Context, since time.Time, limit int) ([]types.AuditEvent, error) {
	return l.repo.ListSince(ctx, since, limit)
}
