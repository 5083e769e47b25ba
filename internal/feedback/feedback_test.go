package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/types"
)

type fakeFeedbackRepo struct {
	appended []*types.Feedback
	summary  map[uuid.UUID]types.FeedbackSummary
}

func (f *fakeFeedbackRepo) Append(ctx context.Context, fb *types.Feedback) error {
	f.appended = append(f.appended, fb)
	return nil
}
func (f *fakeFeedbackRepo) SummaryForMemory(ctx context.Context, memoryID uuid.UUID) (types.FeedbackSummary, error) {
	return f.summary[memoryID], nil
}
func (f *fakeFeedbackRepo) RecentByUser(ctx context.Context, userID uuid.UUID, since int, limit int) ([]types.Feedback, error) {
	return nil, nil
}

type fakeQueryMetricsRepo struct {
	rows      map[uuid.UUID]*types.QueryMetrics
	attached  map[uuid.UUID]uuid.UUID
}

func (f *fakeQueryMetricsRepo) Create(ctx context.Context, metrics *types.QueryMetrics) error {
	return nil
}
func (f *fakeQueryMetricsRepo) GetByID(ctx context.Context, queryID uuid.UUID) (*types.QueryMetrics, error) {
	row, ok := f.rows[queryID]
	if !ok {
		return nil, fabricerrors.ErrNotFound
	}
	return row, nil
}
func (f *fakeQueryMetricsRepo) AttachFeedback(ctx context.Context, queryID, feedbackID uuid.UUID) error {
	if f.attached == nil {
		f.attached = map[uuid.UUID]uuid.UUID{}
	}
	f.attached[queryID] = feedbackID
	return nil
}
func (f *fakeQueryMetricsRepo) Update(ctx context.Context, metrics *types.QueryMetrics) error {
	return nil
}
func (f *fakeQueryMetricsRepo) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.QueryMetrics, error) {
	return nil, nil
}

type fakeMemoryItemRepoForFeedback struct {
	applied map[uuid.UUID]types.FeedbackSummary
}

func (f *fakeMemoryItemRepoForFeedback) Create(ctx context.Context, item *types.MemoryItem) error {
	return nil
}
func (f *fakeMemoryItemRepoForFeedback) GetByID(ctx context.Context, id uuid.UUID) (*types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeMemoryItemRepoForFeedback) GetByContentHash(ctx context.Context, userID uuid.UUID, hash string) (*types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeMemoryItemRepoForFeedback) Update(ctx context.Context, item *types.MemoryItem) error {
	return nil
}
func (f *fakeMemoryItemRepoForFeedback) Delete(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeMemoryItemRepoForFeedback) TouchAccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}
func (f *fakeMemoryItemRepoForFeedback) ListByUser(ctx context.Context, userID uuid.UUID, tier types.MemoryTier, limit, offset int) ([]types.MemoryItem, error) {
	return nil, nil
}
func (f *fakeMemoryItemRepoForFeedback) ApplyFeedbackSummary(ctx context.Context, id uuid.UUID, s types.FeedbackSummary) error {
	if f.applied == nil {
		f.applied = map[uuid.UUID]types.FeedbackSummary{}
	}
	f.applied[id] = s
	return nil
}
func (f *fakeMemoryItemRepoForFeedback) ListForSweep(ctx context.Context, limit, offset int) ([]types.MemoryItem, error) {
	return nil, nil
}

func TestSubmitRejectsOutOfBoundsRating(t *testing.T) {
	a := NewAggregator(&fakeFeedbackRepo{}, &fakeQueryMetricsRepo{}, &fakeMemoryItemRepoForFeedback{})
	_, err := a.Submit(context.Background(), SubmitInput{QueryID: uuid.New(), Rating: 6, FeedbackType: types.FeedbackThumbsUp})
	require.Error(t, err)
}

func TestSubmitRejectsInvalidFeedbackType(t *testing.T) {
	a := NewAggregator(&fakeFeedbackRepo{}, &fakeQueryMetricsRepo{}, &fakeMemoryItemRepoForFeedback{})
	_, err := a.Submit(context.Background(), SubmitInput{QueryID: uuid.New(), Rating: 5, FeedbackType: "not_a_type"})
	require.Error(t, err)
}

func TestSubmitBackfillsResponseSourceFromQueryHistory(t *testing.T) {
	queryID := uuid.New()
	memoryID := uuid.New()
	queries := &fakeQueryMetricsRepo{rows: map[uuid.UUID]*types.QueryMetrics{
		queryID: {QueryID: queryID, ResponseSource: "CLAUDE_SONNET", MemoriesUsed: []uuid.UUID{memoryID}},
	}}
	feedbackRepo := &fakeFeedbackRepo{summary: map[uuid.UUID]types.FeedbackSummary{
		memoryID: {TotalRatings: 3, AvgRating: 4.3},
	}}
	items := &fakeMemoryItemRepoForFeedback{}
	a := NewAggregator(feedbackRepo, queries, items)

	fb, err := a.Submit(context.Background(), SubmitInput{QueryID: queryID, UserID: uuid.New(), Rating: 5, FeedbackType: types.FeedbackThumbsUp})
	require.NoError(t, err)
	require.Equal(t, types.ResponseSource("CLAUDE_SONNET"), fb.ResponseSource)
	require.Len(t, feedbackRepo.appended, 1)
}

func TestSubmitRecomputesSummaryForEveryMemoryUsed(t *testing.T) {
	queryID := uuid.New()
	memA, memB := uuid.New(), uuid.New()
	queries := &fakeQueryMetricsRepo{rows: map[uuid.UUID]*types.QueryMetrics{
		queryID: {QueryID: queryID, MemoriesUsed: []uuid.UUID{memA, memB}},
	}}
	feedbackRepo := &fakeFeedbackRepo{summary: map[uuid.UUID]types.FeedbackSummary{
		memA: {TotalRatings: 1, AvgRating: 5},
		memB: {TotalRatings: 2, AvgRating: 2},
	}}
	items := &fakeMemoryItemRepoForFeedback{}
	a := NewAggregator(feedbackRepo, queries, items)

	_, err := a.Submit(context.Background(), SubmitInput{QueryID: queryID, Rating: 4, FeedbackType: types.FeedbackRegenerate})
	require.NoError(t, err)
	require.Len(t, items.applied, 2)
	require.Equal(t, 5.0, items.applied[memA].AvgRating)
	require.Equal(t, 2.0, items.applied[memB].AvgRating)
}

func TestSubmitReturnsNotFoundForUnknownQuery(t *testing.T) {
	a := NewAggregator(&fakeFeedbackRepo{}, &fakeQueryMetricsRepo{}, &fakeMemoryItemRepoForFeedback{})
	_, err := a.Submit(context.Background(), SubmitInput{QueryID: uuid.New(), Rating: 5, FeedbackType: types.FeedbackThumbsUp})
	require.ErrorIs(t, err, fabricerrors.ErrNotFound)
}
