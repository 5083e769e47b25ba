package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyResponseShortCircuits(t *testing.T) {
	r := Score("   ", nil, "q")
	require.Equal(t, 0.0, r.ConfidenceScore)
	require.False(t, r.ShouldStore)
	require.Contains(t, r.FlaggedReason, "empty_or_whitespace_response")
}

func TestHedgingAnswerIsFlaggedAndNotStored(t *testing.T) {
	r := Score("ACMS might stand for Association for Computing Machinery, I'm not sure.", nil, "q")
	require.Less(t, r.ConfidenceScore, 0.8)
	require.False(t, r.ShouldStore)
	require.Contains(t, r.FlaggedReason, "no_sources_or_low_trust")
	require.Contains(t, r.FlaggedReason, "uncertainty_detected")
}

func TestDocumentSourcedLongAnswerIsStored(t *testing.T) {
	r := Score(strings.Repeat("A", 150), []Source{{Type: SourceDocument}}, "q")
	require.Equal(t, 1.0, r.ConfidenceScore)
	require.True(t, r.ShouldStore)
	require.Empty(t, r.FlaggedReason)
}

func TestConfidenceAlwaysInUnitInterval(t *testing.T) {
	cases := []string{"", "short", strings.Repeat("might ", 50)}
	for _, c := range cases {
		r := Score(c, nil, "q")
		require.GreaterOrEqual(t, r.ConfidenceScore, 0.0)
		require.LessOrEqual(t, r.ConfidenceScore, 1.0)
		require.Equal(t, r.ConfidenceScore >= ConfidenceThreshold, r.ShouldStore)
	}
}

func TestConversationSourceIsMediumTrust(t *testing.T) {
	r := Score(strings.Repeat("A", 150), []Source{{Type: SourceConversation}}, "q")
	require.Equal(t, sourceTrustMedium, r.SourceTrustScore)
}

func TestShouldStoreConvenienceMatchesScore(t *testing.T) {
	answer := strings.Repeat("A", 150)
	sources := []Source{{Type: SourceDocument}}
	require.Equal(t, Score(answer, sources, "q").ShouldStore, ShouldStore(answer, sources, "q"))
}
