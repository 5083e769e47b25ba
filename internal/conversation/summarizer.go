package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/memcortex/fabric/internal/llm"
)

// summarizerSystemPrompt instructs the chat backend to compress rather than
// restate; per the resolved Open Question on compression (spec.md §9.2),
// concatenation is explicitly not acceptable here.
const summarizerSystemPrompt = "You compress a conversation's running summary plus its most recent turns " +
	"into a single updated summary. Preserve names, decisions, and open " +
	"threads; drop small talk and restated context. Reply with the summary " +
	"text only, no preamble."

// LLMSummarizer implements Summarizer over an llm.Chat backend.
type LLMSummarizer struct {
	chat  llm.Chat
	model string
}

func NewLLMSummarizer(chat llm.Chat, model string) *LLMSummarizer {
	return &LLMSummarizer{chat: chat, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, priorSummary string, turns []Turn) (string, error) {
	var b strings.Builder
	if priorSummary != "" {
		fmt.Fprintf(&b, "Prior summary:\n%s\n\n", priorSummary)
	}
	b.WriteString("Recent turns:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	resp, err := s.chat.Complete(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: summarizerSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: summarizing: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
