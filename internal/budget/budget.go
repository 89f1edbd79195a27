// Package budget provides token budget estimation for the synthesis prompt.
// Because answers can be generated by several LLM backends with different
// tokenizers, this package uses a character-based heuristic:
// 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens each chat
	// message costs in most APIs.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitPassages returns how many leading passages can be added to the prompt
// alongside fixed without exceeding maxTokens. Passages are ordered by
// relevance, so only the tail is ever dropped. fixed holds the messages that
// are always sent (system prompt, question). sep is the text joining
// passages in the context block.
//
// The first passage is always kept, even if it alone overflows the budget:
// answering from truncated context beats answering from none.
func FitPassages(fixed []*schema.Message, passages []string, sep string, maxTokens int) int {
	if len(passages) == 0 {
		return 0
	}
	used := EstimateMessages(fixed) + perMessageOverhead
	kept := 0
	for i, p := range passages {
		cost := Estimate(p)
		if i > 0 {
			cost += Estimate(sep)
		}
		if kept > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		kept++
	}
	return kept
}
