package orchestrator

import (
	"regexp"
	"strings"

	"github.com/memcortex/fabric/internal/types"
)

// intentPatterns is a lightweight, ordered keyword classifier: the first
// pattern set to match the lowercased query wins. It exists purely as
// retrieval/agent-routing metadata (spec.md §4.11 step 3) and is never the
// sole basis for a decision, so a cheap deterministic guess is sufficient —
// same "ordered pattern list, first match wins" idiom as privacy.Detect.
var intentPatterns = []struct {
	intent   types.Intent
	patterns []*regexp.Regexp
}{
	{types.IntentMemoryQuery, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(do you remember|did i (tell|mention)|what did i say|recall)\b`),
	}},
	{types.IntentCreative, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(write|compose|draft|brainstorm|imagine|story|poem)\b`),
	}},
	{types.IntentResearch, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(research|investigate|compare|survey|state of the art)\b`),
	}},
	{types.IntentAnalysis, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(why|analyze|explain|compare|trade-?offs?|pros and cons)\b`),
	}},
	{types.IntentFactual, []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(what is|who is|when (did|was)|where is|how many)\b`),
	}},
}

// ClassifyIntent returns the first matching intent, or IntentConversation
// when nothing matches — the catch-all for chit-chat and follow-ups.
func ClassifyIntent(query string) types.Intent {
	lower := strings.ToLower(query)
	for _, group := range intentPatterns {
		for _, p := range group.patterns {
			if p.MatchString(lower) {
				return group.intent
			}
		}
	}
	return types.IntentConversation
}
