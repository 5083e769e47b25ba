package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

type fakeConvRepo struct {
	byID       map[uuid.UUID]*types.Conversation
	messages   map[uuid.UUID][]types.Message
	createErr  error
	appendErr  error
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{byID: map[uuid.UUID]*types.Conversation{}, messages: map[uuid.UUID][]types.Message{}}
}

func (f *fakeConvRepo) Create(ctx context.Context, conv *types.Conversation) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.byID[conv.ConversationID] = conv
	return nil
}

func (f *fakeConvRepo) GetByID(ctx context.Context, conversationID uuid.UUID) (*types.Conversation, error) {
	conv, ok := f.byID[conversationID]
	if !ok {
		return nil, fabricerrors.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConvRepo) UpdateState(ctx context.Context, conversationID uuid.UUID, state types.ConversationState) error {
	conv, ok := f.byID[conversationID]
	if !ok {
		return fabricerrors.ErrNotFound
	}
	conv.State = state
	return nil
}

func (f *fakeConvRepo) AppendMessage(ctx context.Context, msg *types.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], *msg)
	return nil
}

func (f *fakeConvRepo) GetMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientMessageID string) (*types.Message, error) {
	for _, msg := range f.messages[conversationID] {
		if msg.ClientMessageID == clientMessageID {
			m := msg
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeConvRepo) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]types.Message, error) {
	msgs := f.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeConvRepo) CountMessagesSince(ctx context.Context, conversationID uuid.UUID, sinceVersion int) (int64, error) {
	return int64(len(f.messages[conversationID])), nil
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, priorSummary string, turns []Turn) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func TestGetOrCreateMintsNewConversationWhenNoneSupplied(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	userID := uuid.New()

	id, err := m.GetOrCreate(context.Background(), "tenant-1", userID, nil, "claude")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.Len(t, repo.byID, 1)
}

func TestGetOrCreateReturnsExistingWhenOwnerMatches(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	userID := uuid.New()

	first, err := m.GetOrCreate(context.Background(), "tenant-1", userID, nil, "claude")
	require.NoError(t, err)

	second, err := m.GetOrCreate(context.Background(), "tenant-1", userID, &first, "claude")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, repo.byID, 1)
}

func TestGetOrCreateCreatesFreshWhenOwnerMismatches(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})

	existing, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	fresh, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), &existing, "claude")
	require.NoError(t, err)
	require.NotEqual(t, existing, fresh)
	require.Len(t, repo.byID, 2)
}

func TestAppendTurnIsIdempotentOnClientMessageID(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	first, err := m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleUser, Content: "hello", ClientMessageID: "client-1"})
	require.NoError(t, err)

	second, err := m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleUser, Content: "ignored duplicate content", ClientMessageID: "client-1"})
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, repo.messages[convID], 1)
	require.Equal(t, "hello", repo.messages[convID][0].Content)
}

func TestAppendTurnIncrementsTurnsSinceSummary(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	_, err = m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleUser, Content: "one"})
	require.NoError(t, err)
	_, err = m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleAssistant, Content: "two"})
	require.NoError(t, err)

	require.Equal(t, 2, repo.byID[convID].State.TurnsSinceSummary)
}

func TestUpdateSummaryIfNeededSkipsBelowThreshold(t *testing.T) {
	repo := newFakeConvRepo()
	summarizer := &fakeSummarizer{summary: "new summary"}
	m := NewManager(repo, summarizer)
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	updated, err := m.UpdateSummaryIfNeeded(context.Background(), convID, false)
	require.NoError(t, err)
	require.False(t, updated)
	require.Equal(t, 0, summarizer.calls)
}

func TestUpdateSummaryIfNeededRunsAtThreshold(t *testing.T) {
	repo := newFakeConvRepo()
	summarizer := &fakeSummarizer{summary: "compressed summary"}
	m := NewManager(repo, summarizer)
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	for i := 0; i < SummaryThreshold; i++ {
		_, err := m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleUser, Content: "turn"})
		require.NoError(t, err)
	}

	updated, err := m.UpdateSummaryIfNeeded(context.Background(), convID, false)
	require.NoError(t, err)
	require.True(t, updated)
	require.Equal(t, "compressed summary", repo.byID[convID].State.Summary)
	require.Equal(t, 0, repo.byID[convID].State.TurnsSinceSummary)
	require.Equal(t, 2, repo.byID[convID].State.SummaryVersion)
}

func TestUpdateSummaryIfNeededLeavesPriorSummaryOnCompressionFailure(t *testing.T) {
	repo := newFakeConvRepo()
	summarizer := &fakeSummarizer{err: errors.New("llm timeout")}
	m := NewManager(repo, summarizer)
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)
	repo.byID[convID].State.Summary = "old summary"

	for i := 0; i < SummaryThreshold; i++ {
		_, err := m.AppendTurn(context.Background(), AppendTurnInput{TenantID: "tenant-1", ConversationID: convID, Role: types.RoleUser, Content: "turn"})
		require.NoError(t, err)
	}

	updated, err := m.UpdateSummaryIfNeeded(context.Background(), convID, false)
	require.NoError(t, err)
	require.False(t, updated)
	require.Equal(t, "old summary", repo.byID[convID].State.Summary)
	require.Equal(t, SummaryThreshold, repo.byID[convID].State.TurnsSinceSummary)
}

func TestPushTopicDedupesTopAndCapsDepth(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	require.NoError(t, m.PushTopic(context.Background(), convID, "topic-a"))
	require.NoError(t, m.PushTopic(context.Background(), convID, "topic-a"))
	require.Len(t, repo.byID[convID].State.TopicStack, 1)

	for i := 0; i < 15; i++ {
		require.NoError(t, m.PushTopic(context.Background(), convID, uuid.New().String()))
	}
	require.Len(t, repo.byID[convID].State.TopicStack, topicStackCap)
}

func TestUpdateEntitySetsKey(t *testing.T) {
	repo := newFakeConvRepo()
	m := NewManager(repo, &fakeSummarizer{})
	convID, err := m.GetOrCreate(context.Background(), "tenant-1", uuid.New(), nil, "claude")
	require.NoError(t, err)

	require.NoError(t, m.UpdateEntity(context.Background(), convID, "NuBird", "SRE AI assistant"))
	require.Equal(t, "SRE AI assistant", repo.byID[convID].State.Entities["NuBird"])
}
