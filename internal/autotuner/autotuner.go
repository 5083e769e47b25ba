// Package autotuner implements the auto-tuner (C15): an hourly job that
// inspects 30 days of feedback and, if one of three rules fires, mutates a
// runtime config override — disabling the semantic cache, switching the
// default model, or nudging the context limit — and logs the decision.
package autotuner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/types"
)

const (
	lookback = 30 * 24 * time.Hour

	cacheQualityMinSamples = 5
	cacheQualityThreshold  = 3.0

	modelRoutingMinSamples    = 3
	modelRoutingMarginStars   = 0.5

	contextPatternMinSamples   = 5
	contextPatternComplaintPct = 20.0

	contextLimitMin = 5
	contextLimitMax = 20
)

// Overrides is the live, mutable set of config values the auto-tuner may
// have changed since startup. Every read goes through a method with a
// static fallback, so a caller never has to special-case "never tuned yet".
type Overrides struct {
	mu                   sync.RWMutex
	semanticCacheEnabled *bool
	defaultModel         *string
	contextLimit         *int
}

func NewOverrides() *Overrides { return &Overrides{} }

func (o *Overrides) SemanticCacheEnabled(fallback bool) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.semanticCacheEnabled != nil {
		return *o.semanticCacheEnabled
	}
	return fallback
}

func (o *Overrides) DefaultModel(fallback string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.defaultModel != nil {
		return *o.defaultModel
	}
	return fallback
}

func (o *Overrides) ContextLimit(fallback int) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.contextLimit != nil {
		return *o.contextLimit
	}
	return fallback
}

func (o *Overrides) setSemanticCacheEnabled(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.semanticCacheEnabled = &v
}

func (o *Overrides) setDefaultModel(v string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defaultModel = &v
}

func (o *Overrides) setContextLimit(v int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.contextLimit = &v
}

// Tuner runs the three analyzers, in priority order, and applies the first
// one that fires.
type Tuner struct {
	stats             repository.AutoTunerStatsRepository
	overrides         *Overrides
	currentModel      func() string
	currentContextLim func() int
	now               func() time.Time
}

func NewTuner(stats repository.AutoTunerStatsRepository, overrides *Overrides, currentModel func() string, currentContextLimit func() int) *Tuner {
	return &Tuner{
		stats:             stats,
		overrides:         overrides,
		currentModel:      currentModel,
		currentContextLim: currentContextLimit,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// AnalyzeAndApply runs the three analyzers in order and applies the first
// decision that fires. It returns nil, nil when no rule fired. Both phases
// (analysis and decision logging) tolerate partial failure per spec.md
// §4.12's phase-tolerance pattern; a failed log write never unwinds an
// already-applied decision.
func (t *Tuner) AnalyzeAndApply(ctx context.Context) (*types.TuningDecision, error) {
	decision, err := t.analyze(ctx)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, nil
	}
	t.apply(ctx, *decision)
	return decision, nil
}

func (t *Tuner) analyze(ctx context.Context) (*types.TuningDecision, error) {
	since := t.now().Add(-lookback)

	if d, err := t.analyzeCacheQuality(ctx, since); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}

	if d, err := t.analyzeModelPerformance(ctx, since); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}

	if d, err := t.analyzeContextPatterns(ctx, since); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}

	return nil, nil
}

func (t *Tuner) analyzeCacheQuality(ctx context.Context, since time.Time) (*types.TuningDecision, error) {
	avgRating, count, err := t.stats.CacheQualityStats(ctx, since)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if avgRating < cacheQualityThreshold && count >= cacheQualityMinSamples {
		return &types.TuningDecision{
			Action:     types.ActionDisableSemanticCache,
			Reason:     fmt.Sprintf("cache quality below threshold: %.2f/5.0 (n=%d)", avgRating, count),
			Confidence: minFloat(float64(count)/10.0, 1.0),
			Params:     map[string]any{"old_value": true, "new_value": false},
			DecidedAt:  t.now(),
		}, nil
	}
	return nil, nil
}

func (t *Tuner) analyzeModelPerformance(ctx context.Context, since time.Time) (*types.TuningDecision, error) {
	ratings, err := t.stats.ModelPerformanceStats(ctx, since, modelRoutingMinSamples)
	if err != nil {
		return nil, err
	}
	if len(ratings) < 2 {
		return nil, nil
	}

	best := ratings[0]
	current := t.currentModel()

	var currentRating float64
	found := false
	for _, r := range ratings {
		if r.Model == current {
			currentRating = r.AvgRating
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	if best.AvgRating-currentRating > modelRoutingMarginStars {
		return &types.TuningDecision{
			Action:     types.ActionSwitchModel,
			Reason:     fmt.Sprintf("%s rated %.2f vs %s %.2f", best.Model, best.AvgRating, current, currentRating),
			Confidence: minFloat(float64(best.FeedbackCount)/20.0, 1.0),
			Params:     map[string]any{"old_value": current, "new_value": best.Model},
			DecidedAt:  t.now(),
		}, nil
	}
	return nil, nil
}

func (t *Tuner) analyzeContextPatterns(ctx context.Context, since time.Time) (*types.TuningDecision, error) {
	tooMany, tooFew, total, err := t.stats.ContextPatternStats(ctx, since)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	tooManyPct := float64(tooMany) / float64(total) * 100
	tooFewPct := float64(tooFew) / float64(total) * 100
	current := t.currentContextLim()

	if tooManyPct > contextPatternComplaintPct && tooMany >= contextPatternMinSamples {
		newLimit := maxInt(current-2, contextLimitMin)
		return &types.TuningDecision{
			Action:     types.ActionReduceContextLimit,
			Reason:     fmt.Sprintf("%.1f%% feedback says 'too many sources' (n=%d)", tooManyPct, tooMany),
			Confidence: minFloat(float64(tooMany)/10.0, 1.0),
			Params:     map[string]any{"old_value": current, "new_value": newLimit},
			DecidedAt:  t.now(),
		}, nil
	}
	if tooFewPct > contextPatternComplaintPct && tooFew >= contextPatternMinSamples {
		newLimit := minInt(current+2, contextLimitMax)
		return &types.TuningDecision{
			Action:     types.ActionIncreaseContextLimit,
			Reason:     fmt.Sprintf("%.1f%% feedback says 'too few sources' (n=%d)", tooFewPct, tooFew),
			Confidence: minFloat(float64(tooFew)/10.0, 1.0),
			Params:     map[string]any{"old_value": current, "new_value": newLimit},
			DecidedAt:  t.now(),
		}, nil
	}
	return nil, nil
}

// apply mutates the live overrides and writes the audit-trail row. Per
// Open Question 5's resolution this persistence is required, not advisory:
// a failed write surfaces as ErrAuditFailure through the logger, but it
// never undoes the override already applied.
func (t *Tuner) apply(ctx context.Context, decision types.TuningDecision) {
	switch decision.Action {
	case types.ActionDisableSemanticCache:
		t.overrides.setSemanticCacheEnabled(false)
	case types.ActionSwitchModel:
		if newModel, ok := decision.Params["new_value"].(string); ok {
			t.overrides.setDefaultModel(newModel)
		}
	case types.ActionReduceContextLimit, types.ActionIncreaseContextLimit:
		if newLimit, ok := decision.Params["new_value"].(int); ok {
			t.overrides.setContextLimit(newLimit)
		}
	}

	entry := &types.AutoTuningLogEntry{
		LogID:      uuid.New(),
		Action:     decision.Action,
		Reason:     decision.Reason,
		OldValue:   fmt.Sprintf("%v", decision.Params["old_value"]),
		NewValue:   fmt.Sprintf("%v", decision.Params["new_value"]),
		Confidence: decision.Confidence,
		CreatedAt:  decision.DecidedAt,
	}
	if err := t.stats.LogTuningDecision(ctx, entry); err != nil {
		logger.ErrorWithFields(ctx, fmt.Errorf("%w: %v", fabricerrors.ErrAuditFailure, err), map[string]any{
			"action": string(decision.Action),
			"reason": decision.Reason,
		})
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
