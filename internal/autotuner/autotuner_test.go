package autotuner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memcortex/fabric/internal/types"
)

type fakeStatsRepo struct {
	cacheAvg     float64
	cacheCount   int64
	modelRatings []ModelRating
	tooMany      int64
	tooFew       int64
	total        int64
	logged       []*types.AutoTuningLogEntry
	logErr       error
}

func (f *fakeStatsRepo) Sync(ctx context.Context, since time.Time) error { return nil }
func (f *fakeStatsRepo) CacheQualityStats(ctx context.Context, since time.Time) (float64, int64, error) {
	return f.cacheAvg, f.cacheCount, nil
}
func (f *fakeStatsRepo) ModelPerformanceStats(ctx context.Context, since time.Time, minSamples int64) ([]ModelRating, error) {
	return f.modelRatings, nil
}
func (f *fakeStatsRepo) ContextPatternStats(ctx context.Context, since time.Time) (int64, int64, int64, error) {
	return f.tooMany, f.tooFew, f.total, nil
}
func (f *fakeStatsRepo) LogTuningDecision(ctx context.Context, entry *types.AutoTuningLogEntry) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logged = append(f.logged, entry)
	return nil
}

func newTuner(stats *fakeStatsRepo) (*Tuner, *Overrides) {
	overrides := NewOverrides()
	tuner := NewTuner(stats, overrides, func() string { return "claude-sonnet-4.5" }, func() int { return 10 })
	return tuner, overrides
}

func TestAnalyzeAndApplyDisablesCacheBelowThreshold(t *testing.T) {
	stats := &fakeStatsRepo{cacheAvg: 2.1, cacheCount: 8}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, types.ActionDisableSemanticCache, decision.Action)
	require.False(t, overrides.SemanticCacheEnabled(true))
	require.Len(t, stats.logged, 1)
}

func TestAnalyzeAndApplyIgnoresCacheQualityBelowSampleFloor(t *testing.T) {
	stats := &fakeStatsRepo{cacheAvg: 1.0, cacheCount: 2}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.Nil(t, decision)
	require.True(t, overrides.SemanticCacheEnabled(true))
}

func TestAnalyzeAndApplySwitchesModelOnSignificantMargin(t *testing.T) {
	stats := &fakeStatsRepo{
		modelRatings: []ModelRating{
			{Model: "gpt-4o", AvgRating: 4.8, FeedbackCount: 10},
			{Model: "claude-sonnet-4.5", AvgRating: 4.0, FeedbackCount: 10},
		},
	}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, types.ActionSwitchModel, decision.Action)
	require.Equal(t, "gpt-4o", overrides.DefaultModel("claude-sonnet-4.5"))
}

func TestAnalyzeAndApplyKeepsModelWithinMargin(t *testing.T) {
	stats := &fakeStatsRepo{
		modelRatings: []ModelRating{
			{Model: "gpt-4o", AvgRating: 4.3, FeedbackCount: 10},
			{Model: "claude-sonnet-4.5", AvgRating: 4.0, FeedbackCount: 10},
		},
	}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.Nil(t, decision)
	require.Equal(t, "claude-sonnet-4.5", overrides.DefaultModel("claude-sonnet-4.5"))
}

func TestAnalyzeAndApplyReducesContextLimitOnTooManyComplaints(t *testing.T) {
	stats := &fakeStatsRepo{tooMany: 6, tooFew: 0, total: 20}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, types.ActionReduceContextLimit, decision.Action)
	require.Equal(t, 8, overrides.ContextLimit(10))
}

func TestAnalyzeAndApplyIncreasesContextLimitOnTooFewComplaints(t *testing.T) {
	stats := &fakeStatsRepo{tooMany: 0, tooFew: 6, total: 20}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, types.ActionIncreaseContextLimit, decision.Action)
	require.Equal(t, 12, overrides.ContextLimit(10))
}

func TestAnalyzeAndApplyContextLimitRespectsBounds(t *testing.T) {
	stats := &fakeStatsRepo{tooMany: 20, tooFew: 0, total: 20}
	tuner, overrides := newTuner(stats)
	// simulate an already-low current limit so reduction clamps at the floor
	tuner.currentContextLim = func() int { return 6 }

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, 5, overrides.ContextLimit(10))
}

func TestAnalyzeAndApplyReturnsNilWhenNoRuleFires(t *testing.T) {
	stats := &fakeStatsRepo{}
	tuner, _ := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.Nil(t, decision)
	require.Empty(t, stats.logged)
}

func TestApplyDoesNotUndoOverrideWhenLoggingFails(t *testing.T) {
	stats := &fakeStatsRepo{cacheAvg: 1.5, cacheCount: 10, logErr: errContextDeadlineExceededStub}
	tuner, overrides := newTuner(stats)

	decision, err := tuner.AnalyzeAndApply(context.Background())
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.False(t, overrides.SemanticCacheEnabled(true))
}

var errContextDeadlineExceededStub = context.DeadlineExceeded
