// Package tokens provides a deterministic, model-agnostic upper-bound token
// estimate used only for threshold comparisons in the compactor and loop.
// Precision against any real tokenizer is not a goal.
package tokens

import "github.com/relaykit/agentcore/pkg/models"

// charsPerToken is the rough divisor used to turn a character count into a
// token estimate. Not meant to match any specific model's tokenizer.
const charsPerToken = 4

// EstimateMessage returns the estimated character-weight of a single message:
// its role name plus its canonical content string.
func EstimateMessage(m models.Message) int {
	return len(string(m.Role)) + len(m.CanonicalString())
}

// Estimate sums EstimateMessage across messages, divides by charsPerToken,
// and rounds up.
func Estimate(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return ceilDiv(total, charsPerToken)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
