package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

func TestSummarizeEmpty(t *testing.T) {
	s := summarize(nil)
	require.Equal(t, 0, s.TotalRatings)
	require.Equal(t, 0.0, s.AvgRating)
}

func TestSummarizeMixedFeedback(t *testing.T) {
	rows := []types.Feedback{
		{Rating: 5, FeedbackType: types.FeedbackThumbsUp},
		{Rating: 1, FeedbackType: types.FeedbackThumbsDown},
		{FeedbackType: types.FeedbackRegenerate},
	}
	s := summarize(rows)
	require.Equal(t, 3, s.TotalRatings)
	require.Equal(t, 1, s.ThumbsUp)
	require.Equal(t, 1, s.ThumbsDown)
	require.Equal(t, 1, s.Regenerates)
	require.InDelta(t, 3.0, s.AvgRating, 1e-9)
}

func TestMemoryIDContainsFilterFormatsJSONArray(t *testing.T) {
	id := types.MemoryItem{}.MemoryID
	filter := memoryIDContainsFilter(id)
	require.Contains(t, filter, `["`)
	require.Contains(t, filter, `"]`)
}
