package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

type fakeAuditRepo struct {
	appended []*types.AuditEvent
	failWith error
}

func (f *fakeAuditRepo) Append(ctx context.Context, event *types.AuditEvent) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.appended = append(f.appended, event)
	return nil
}

func (f *fakeAuditRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]types.AuditEvent, error) {
	return nil, nil
}

func (f *fakeAuditRepo) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.AuditEvent, error) {
	return nil, nil
}

func TestEmitAssignsIDAndTimestamp(t *testing.T) {
	repo := &fakeAuditRepo{}
	l := NewLogger(repo)
	l.Emit(context.Background(), Event{Kind: types.AuditTransform, Source: "memory", Operation: "create", ItemCount: 1})

	require.Len(t, repo.appended, 1)
	require.NotEqual(t, uuid.Nil, repo.appended[0].EventID)
	require.False(t, repo.appended[0].Timestamp.IsZero())
	require.Equal(t, types.PrivacyInternal, repo.appended[0].DataClassification)
}

func TestEmitDefaultsClassificationWhenUnset(t *testing.T) {
	repo := &fakeAuditRepo{}
	l := NewLogger(repo)
	l.Emit(context.Background(), Event{Kind: types.AuditEgress, Source: "retrieval", Operation: "respond"})
	require.Equal(t, types.PrivacyInternal, repo.appended[0].DataClassification)
}

func TestEmitPreservesExplicitClassification(t *testing.T) {
	repo := &fakeAuditRepo{}
	l := NewLogger(repo)
	l.Emit(context.Background(), Event{Kind: types.AuditTransform, Source: "memory", Operation: "create", DataClassification: types.PrivacyLocalOnly})
	require.Equal(t, types.PrivacyLocalOnly, repo.appended[0].DataClassification)
}

func TestEmitSwallowsRepositoryFailure(t *testing.T) {
	repo := &fakeAuditRepo{failWith: errors.New("disk full")}
	l := NewLogger(repo)
	require.NotPanics(t, func() {
		l.Emit(context.Background(), Event{Kind: types.AuditIngress, Source: "api", Operation: "ask"})
	})
	require.Empty(t, repo.appended)
}
