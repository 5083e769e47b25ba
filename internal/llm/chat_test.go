package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoutesBySource(t *testing.T) {
	local, err := New(Config{Source: SourceLocal, ModelName: "llama3"})
	require.NoError(t, err)
	require.Equal(t, "llama3", local.ModelName())

	remote, err := New(Config{Source: SourceRemote, ModelName: "gpt-4o", APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", remote.ModelName())
}

func TestNewRejectsUnknownSource(t *testing.T) {
	_, err := New(Config{Source: "quantum", ModelName: "x"})
	require.Error(t, err)
}

func TestEstimateCostUSDScalesWithTokenSplit(t *testing.T) {
	require.InDelta(t, 0.0, estimateCostUSD(0, 0), 1e-9)
	require.InDelta(t, approxCostPerThousandInputTokensUSD, estimateCostUSD(1000, 0), 1e-9)
	require.InDelta(t, approxCostPerThousandOutputTokensUSD, estimateCostUSD(0, 1000), 1e-9)
	require.Greater(t, estimateCostUSD(500, 500), estimateCostUSD(1000, 0))
}
