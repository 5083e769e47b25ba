package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

// approxCostPerThousandInputTokensUSD/OutputTokensUSD are a rough,
// model-independent blended rate: the platform needs est_cost_usd for
// query_metrics/compaction budget tracking, not invoiced accuracy, since
// OpenAI-compatible chat completion responses don't return a cost field the
// way some billing-aware providers do.
const (
	approxCostPerThousandInputTokensUSD  = 0.003
	approxCostPerThousandOutputTokensUSD = 0.015
)

type openAIChat struct {
	client    *openai.Client
	modelName string
}

func newOpenAIChat(cfg Config) Chat {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIChat{client: openai.NewClientWithConfig(clientCfg), modelName: cfg.ModelName}
}

func (c *openAIChat) ModelName() string { return c.modelName }

func (c *openAIChat) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.modelName
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	latency := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", fabricerrors.ErrLLM, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", fabricerrors.ErrLLM)
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      estimateCostUSD(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Latency:      latency,
	}, nil
}

func estimateCostUSD(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*approxCostPerThousandInputTokensUSD +
		float64(outputTokens)/1000*approxCostPerThousandOutputTokensUSD
}
