package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

func TestScoreMonotoneInSimilarity(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	low := e.Score(0.1, now, now, types.TierMid, nil, 0)
	high := e.Score(0.9, now, now, types.TierMid, nil, 0)
	require.Greater(t, high.Composite, low.Composite)
}

func TestScoreMonotoneNonIncreasingInAge(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	recent := e.Score(0.5, now, now, types.TierMid, nil, 0)
	old := e.Score(0.5, now.Add(-60*24*time.Hour), now, types.TierMid, nil, 0)
	require.GreaterOrEqual(t, recent.Composite, old.Composite)
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	b := e.Score(5.0, now, now, types.TierLong, &FeedbackSummaryInput{AvgRating: floatPtr(1.0)}, 1000)
	require.LessOrEqual(t, b.Composite, 1.0)
	require.GreaterOrEqual(t, b.Composite, 0.0)
}

func TestTierScoreOrdering(t *testing.T) {
	require.Less(t, tierScore(types.TierShort), tierScore(types.TierMid))
	require.Less(t, tierScore(types.TierMid), tierScore(types.TierLong))
}

func TestFeedbackScoreNeutralWhenAbsent(t *testing.T) {
	require.Equal(t, 0.5, feedbackScore(nil))
	require.Equal(t, 0.5, feedbackScore(&FeedbackSummaryInput{}))
}

func TestFeedbackScoreFromAvgRating(t *testing.T) {
	require.Equal(t, 1.0, feedbackScore(&FeedbackSummaryInput{AvgRating: floatPtr(1.0)}))
	require.Equal(t, 0.0, feedbackScore(&FeedbackSummaryInput{AvgRating: floatPtr(-1.0)}))
}

func TestFrequencyScoreZeroAtZeroAccesses(t *testing.T) {
	require.Equal(t, 0.0, frequencyScore(0))
	require.Greater(t, frequencyScore(100), frequencyScore(1))
}

func TestWeightsRenormalize(t *testing.T) {
	e := NewEngineWithWeights(Weights{Semantic: 2, Recency: 2, Tier: 2, Feedback: 2, Frequency: 2})
	w := e.Weights()
	sum := w.Semantic + w.Recency + w.Tier + w.Feedback + w.Frequency
	require.InDelta(t, 1.0, sum, 1e-9)
}

func floatPtr(f float64) *float64 { return &f }
