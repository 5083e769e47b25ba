package embedding

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// ollamaEmbedder wraps a locally-hosted Ollama embedding model, selected
// when the caller's ModelSource is "local".
type ollamaEmbedder struct {
	client    *api.Client
	modelName string
}

func newOllamaEmbedder(cfg Config) Embedder {
	return &ollamaEmbedder{
		client:    api.NewClient(mustParseBaseURL(cfg.BaseURL), nil),
		modelName: cfg.ModelName,
	}
}

func (e *ollamaEmbedder) ModelName() string { return e.modelName }
func (e *ollamaEmbedder) Dimensions() int   { return Dimensions }

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) (Result, error) {
	if err := validateText(text); err != nil {
		return Result{}, err
	}
	start := time.Now()
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.modelName,
		Input: text,
	})
	latency := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", fabricerrors.ErrEmbedding, err)
	}
	if len(resp.Embeddings) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", fabricerrors.ErrEmbedding)
	}
	if err := validateVector(resp.Embeddings[0]); err != nil {
		return Result{}, err
	}
	return Result{Vector: resp.Embeddings[0], Latency: latency}, nil
}

func (e *ollamaEmbedder) BatchEmbed(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, 0, len(texts))
	for _, text := range texts {
		r, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func mustParseBaseURL(raw string) *url.URL {
	if raw == "" {
		raw = "http://localhost:11434"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{Scheme: "http", Host: "localhost:11434"}
	}
	return u
}
