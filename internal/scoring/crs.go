// Package scoring implements the five-factor Context Retrieval Score (C8):
// a weighted combination of semantic similarity, recency, tier, feedback,
// and access frequency, each normalized to [0,1].
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/memcortex/fabric/internal/types"
)

const (
	recencyHalfLifeDays = 30
	maxAccessCount      = 100
	tierMin             = 0.8
	tierMax             = 1.2
)

// Weights are the five factor weights; they are renormalized to sum to 1.0
// whenever they are set.
type Weights struct {
	Semantic  float64
	Recency   float64
	Tier      float64
	Feedback  float64
	Frequency float64
}

// DefaultWeights matches the platform's tuned defaults: similarity carries
// the most signal, tier and recency are next, feedback/frequency are minor
// adjustments.
var DefaultWeights = Weights{Semantic: 0.4, Recency: 0.2, Tier: 0.2, Feedback: 0.1, Frequency: 0.1}

func (w Weights) normalized() Weights {
	total := w.Semantic + w.Recency + w.Tier + w.Feedback + w.Frequency
	if total <= 0 {
		return w
	}
	return Weights{
		Semantic:  w.Semantic / total,
		Recency:   w.Recency / total,
		Tier:      w.Tier / total,
		Feedback:  w.Feedback / total,
		Frequency: w.Frequency / total,
	}
}

// Engine computes CRS scores using a mutable, reconfigurable weight set. A
// single Engine is safe for concurrent Score calls; UpdateWeights takes a
// lock since the auto-tuner and the request path may touch it concurrently.
type Engine struct {
	mu      sync.RWMutex
	weights Weights
}

func NewEngine() *Engine {
	return &Engine{weights: DefaultWeights.normalized()}
}

// NewEngineWithWeights builds an Engine with custom (renormalized) weights.
func NewEngineWithWeights(w Weights) *Engine {
	return &Engine{weights: w.normalized()}
}

func (e *Engine) UpdateWeights(w Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w.normalized()
}

func (e *Engine) Weights() Weights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

func (e *Engine) ResetWeights() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = DefaultWeights.normalized()
}

// FeedbackSummaryInput is the subset of a MemoryItem's feedback summary the
// feedback factor needs; avg_rating is expected to be on a -1..1 scale when
// present (the relational layer is responsible for mapping 1..5 stars to
// that scale before calling Score).
type FeedbackSummaryInput struct {
	AvgRating  *float64
	ThumbsUp   int
	ThumbsDown int
}

// Score computes the CRS and its component breakdown for a single candidate.
func (e *Engine) Score(similarity float64, createdAt, now time.Time, tier types.MemoryTier, feedback *FeedbackSummaryInput, accessCount int) types.ScoreBreakdown {
	w := e.Weights()

	b := types.ScoreBreakdown{
		Similarity: semanticScore(similarity),
		Recency:    recencyScore(createdAt, now),
		Tier:       tierScore(tier),
		Feedback:   feedbackScore(feedback),
		Frequency:  frequencyScore(accessCount),
	}
	composite := b.Similarity*w.Semantic + b.Recency*w.Recency + b.Tier*w.Tier + b.Feedback*w.Feedback + b.Frequency*w.Frequency
	b.Composite = clamp01(composite)
	return b
}

func semanticScore(similarity float64) float64 { return clamp01(similarity) }

// recencyScore applies exponential half-life decay: exp(-days_old / (30/ln2)).
// Subtraction is timezone-safe because time.Time.Sub always compares
// absolute instants regardless of the Location each value carries.
func recencyScore(createdAt, now time.Time) float64 {
	daysOld := now.Sub(createdAt).Hours() / 24
	decayConstant := recencyHalfLifeDays / math.Ln2
	return clamp01(math.Exp(-daysOld / decayConstant))
}

func tierScore(tier types.MemoryTier) float64 {
	multiplier := tier.Weight()
	return clamp01((multiplier - tierMin) / (tierMax - tierMin))
}

func feedbackScore(f *FeedbackSummaryInput) float64 {
	if f == nil {
		return 0.5
	}
	if f.AvgRating != nil {
		return clamp01((*f.AvgRating + 1.0) / 2.0)
	}
	total := f.ThumbsUp + f.ThumbsDown
	if total == 0 {
		return 0.5
	}
	positiveRatio := float64(f.ThumbsUp) / float64(total)
	confidence := math.Min(1.0, float64(total)/10.0)
	return clamp01(0.5 + (positiveRatio-0.5)*confidence)
}

func frequencyScore(accessCount int) float64 {
	if accessCount <= 0 {
		return 0.0
	}
	capped := accessCount
	if capped > maxAccessCount {
		capped = maxAccessCount
	}
	maxLog := math.Log10(float64(maxAccessCount))
	return clamp01(math.Log10(float64(capped)+1) / (maxLog + 0.1))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
