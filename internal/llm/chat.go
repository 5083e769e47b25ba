// Package llm implements the chat-completion client shared by the
// orchestrator's agent invocation (C12) and the compaction engine's
// synthesis calls (C13): text in, text plus cost/latency/token accounting
// out, routed to a backend the same way internal/embedding routes Source.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source selects which backend family a Chat config targets.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string
	Content string
}

// Request carries everything a synthesis or agent call can configure.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is the normalized completion result every backend produces,
// regardless of how its native API reports cost.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Latency      time.Duration
}

// Chat is the minimal surface both the orchestrator and the compaction
// engine need: one blocking completion call.
type Chat interface {
	Complete(ctx context.Context, req Request) (Response, error)
	ModelName() string
}

// Config selects and parameterizes a Chat backend.
type Config struct {
	Source    Source
	BaseURL   string
	ModelName string
	APIKey    string
}

// New builds a Chat client from config, routing on Source exactly the way
// internal/embedding.New does.
func New(cfg Config) (Chat, error) {
	switch strings.ToLower(string(cfg.Source)) {
	case string(SourceLocal):
		return newOllamaChat(cfg), nil
	case string(SourceRemote):
		return newOpenAIChat(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unsupported source %q", cfg.Source)
	}
}
