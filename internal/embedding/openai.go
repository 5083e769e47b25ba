package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// openAIEmbedder wraps an OpenAI-compatible embeddings endpoint, used for
// every remote-source model that doesn't need bespoke request shaping.
type openAIEmbedder struct {
	client    *openai.Client
	modelName string
}

func newOpenAIEmbedder(cfg Config) Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		modelName: cfg.ModelName,
	}
}

func (e *openAIEmbedder) ModelName() string { return e.modelName }
func (e *openAIEmbedder) Dimensions() int   { return Dimensions }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) (Result, error) {
	if err := validateText(text); err != nil {
		return Result{}, err
	}
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.modelName),
		Dimensions: Dimensions,
	})
	latency := time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", fabricerrors.ErrEmbedding, err)
	}
	if len(resp.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", fabricerrors.ErrEmbedding)
	}
	vec := resp.Data[0].Embedding
	if err := validateVector(vec); err != nil {
		return Result{}, err
	}
	return Result{Vector: vec, Latency: latency}, nil
}

// BatchEmbed is sequential, per spec.md §4.3; callers that want concurrency
// fan out across Embed calls themselves.
func (e *openAIEmbedder) BatchEmbed(ctx context.Context, texts []string) ([]Result, error) {
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
