package llm

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// ollamaChat wraps a locally-hosted Ollama model, selected when a Config's
// Source is "local". Local generation is treated as free: est_cost_usd
// stays zero, same as the embedding client's local path.
type ollamaChat struct {
	client    *api.Client
	modelName string
}

func newOllamaChat(cfg Config) Chat {
	return &ollamaChat{client: api.NewClient(mustParseBaseURL(cfg.BaseURL), nil), modelName: cfg.ModelName}
}

func (c *ollamaChat) ModelName() string { return c.modelName }

func (c *ollamaChat) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}
	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	var text string
	stream := false
	start := time.Now()
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		text += resp.Message.Content
		return nil
	})
	latency := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", fabricerrors.ErrLLM, err)
	}
	return Response{Text: text, Latency: latency}, nil
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
