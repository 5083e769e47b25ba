// Package embedding implements the embedding client (C3): text to a
// fixed-dimension vector via one of several backends, selected the way the
// teacher's model factory routes by source/provider.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// Dimensions is the single embedding dimension the platform commits to
// (Open Question 3, resolved in DESIGN.md): every collection, insert, and
// query vector must be exactly this wide. Rows written under the legacy
// 768-dimension generation are a reconciliation-sweep concern, not a branch
// here — embedding them again at read time is what repairs them.
const Dimensions = 1536

// ModelSource selects which backend family an embedder config targets,
// mirroring the teacher's types.ModelSource switch.
type ModelSource string

const (
	SourceLocal  ModelSource = "local"
	SourceRemote ModelSource = "remote"
)

// Embedder converts text to vectors. Batch form is sequential per spec.md
// §4.3; callers needing parallelism do it themselves across Embed calls.
type Embedder interface {
	Embed(ctx context.Context, text string) (Result, error)
	BatchEmbed(ctx context.Context, texts []string) ([]Result, error)
	ModelName() string
	Dimensions() int
}

// Result pairs the vector with the latency the caller should report to
// metrics, per spec.md §4.3's "latency is reported to the caller" clause.
type Result struct {
	Vector  []float32
	Latency time.Duration
}

// Config selects and parameterizes an Embedder.
type Config struct {
	Source     ModelSource
	BaseURL    string
	ModelName  string
	APIKey     string
	Dimensions int
}

// New builds an Embedder from config, routing on Source the way the
// teacher's NewEmbedder factory does.
func New(config Config) (Embedder, error) {
	if config.Dimensions == 0 {
		config.Dimensions = Dimensions
	}
	if config.Dimensions != Dimensions {
		return nil, fmt.Errorf("%w: configured dimension %d, platform commits to %d", fabricerrors.ErrDimensionMismatch, config.Dimensions, Dimensions)
	}

	switch strings.ToLower(string(config.Source)) {
	case string(SourceLocal):
		return newOllamaEmbedder(config), nil
	case string(SourceRemote):
		return newOpenAIEmbedder(config), nil
	default:
		return nil, fmt.Errorf("embedding: unsupported source %q", config.Source)
	}
}

// validateText enforces the "empty input fails" rule from spec.md §4.3.
func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty input", fabricerrors.ErrEmbedding)
	}
	return nil
}

// validateVector enforces the dimension-mismatch rule loudly rather than
// silently coexisting with a different-width vector.
func validateVector(v []float32) error {
	if len(v) != Dimensions {
		return fmt.Errorf("%w: provider returned %d dimensions, want %d", fabricerrors.ErrDimensionMismatch, len(v), Dimensions)
	}
	return nil
}
