package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaykit/agentcore/pkg/models"
)

// summarizationSystemPrompt asks for a bounded-length structured bullet
// summary. Its wording is implementation-defined (SPEC_FULL.md §11 open
// question #2); only the tag-plus-bullet-header structure is contractual.
const summarizationSystemPrompt = `You are compacting a long conversation history into a short
structured summary so the conversation can continue with less context. Write the summary as:

- Topics: the main subjects discussed
- Decisions: choices or conclusions reached
- Pending: open items or follow-ups still outstanding
- Tool outcomes: notable results from tool calls

Keep the whole summary under the requested token budget. Do not include the tag line yourself;
it will be added by the caller.`

// Summarize drains the chunk stream of one Complete call and returns the resulting
// text, prefixed with the literal "[COMPACTED_CONTEXT]" tag on its own line
// if not already present. Returns an error if the provider errors or yields
// a blank summary.
func Summarize(ctx context.Context, p Provider, messages []models.Message, maxTokens int) (string, error) {
	req := &CompletionRequest{
		System:    summarizationSystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	chunks, future, err := p.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	var b strings.Builder
	for c := range chunks {
		b.WriteString(c.TextDelta)
	}
	res, err := future.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if res.Err != nil {
		return "", fmt.Errorf("summarize: %w", res.Err)
	}
	summary := res.Text
	if summary == "" {
		summary = b.String()
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize: provider returned blank summary")
	}
	const tag = "[COMPACTED_CONTEXT]"
	if !strings.HasPrefix(summary, tag) {
		summary = tag + "\n" + summary
	}
	return summary, nil
}
