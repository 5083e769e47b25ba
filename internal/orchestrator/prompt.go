package orchestrator

import (
	"fmt"
	"strings"

	"github.com/memcortex/fabric/internal/conversation"
	"github.com/memcortex/fabric/internal/retrieval"
)

const (
	maxSourceBlockChars = 50_000
	systemPreamble      = "You are a memory-augmented assistant. Synthesize an answer strictly from " +
		"the sources provided below; state when a source is insufficient rather than guessing."
)

// assemblePrompt builds the single user-turn message the chat backend sees,
// in the order spec.md §4.11 step 8 lists: preamble, rolling summary, last
// turns, then per-source blocks, then the verbatim file attachment.
func assemblePrompt(query string, thread *conversation.ThreadContext, cacheHits []retrieval.RawHit, knowledgeHits []retrieval.KnowledgeHit, fileCtx string) string {
	var b strings.Builder

	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if thread != nil {
		if thread.Summary != "" {
			b.WriteString("Conversation summary so far:\n")
			b.WriteString(thread.Summary)
			b.WriteString("\n\n")
		}
		if len(thread.RecentTurns) > 0 {
			b.WriteString("Recent turns:\n")
			for _, t := range thread.RecentTurns {
				fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
			}
			b.WriteString("\n")
		}
	}

	for i, hit := range cacheHits {
		fmt.Fprintf(&b, "Source (prior answer %d):\n%s\n\n", i+1, truncateBlock(hit.CanonicalQuery+"\n"+hit.SummarizedAnswer))
	}
	for i, hit := range knowledgeHits {
		fmt.Fprintf(&b, "Source (knowledge %d):\n%s\n\n", i+1, truncateBlock(hit.Content))
	}

	if fileCtx != "" {
		b.WriteString("Attached file:\n")
		b.WriteString(fileCtx)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)

	return b.String()
}

func truncateBlock(s string) string {
	if len(s) <= maxSourceBlockChars {
		return s
	}
	return s[:maxSourceBlockChars]
}
