// Package compaction implements the context compactor (C2): deciding
// whether to compact a Context and producing a replacement message list via
// summarization or pruning, per spec.md §4.2.
package compaction

import (
	"context"

	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/observability"
	"github.com/relaykit/agentcore/internal/tokens"
	"github.com/relaykit/agentcore/pkg/models"
)

// Config holds the configurable thresholds from spec.md §4.2/§6.5.
type Config struct {
	WindowTokens          int
	CompactTrigger        int // tokens; default 0.75 * WindowTokens
	CompactTarget         int // tokens; default 0.50 * WindowTokens
	KeepLastTurns         int // default 6
	MaxCompactionAttempts int // default 2
	SummaryMaxTokens      int
}

// DefaultConfig returns a Config for a windowTokens-sized context window
// (128000 when windowTokens <= 0) with every other field at its default.
func DefaultConfig(windowTokens int) Config {
	if windowTokens <= 0 {
		windowTokens = 128000
	}
	return Config{
		WindowTokens:          windowTokens,
		CompactTrigger:        windowTokens * 3 / 4,
		CompactTarget:         windowTokens / 2,
		KeepLastTurns:         6,
		MaxCompactionAttempts: 2,
		SummaryMaxTokens:      1024,
	}
}

// Outcome is the result of one Compact call.
type Outcome struct {
	Compacted bool
	Messages  []models.Message
	Event     models.CompactionEvent
}

// Compactor decides whether to compact and, if so, produces the new message
// list. It depends on an llm.Provider only to request summaries — it has no
// other external dependency.
type Compactor struct {
	cfg      Config
	provider llm.Provider

	// Metrics is optional; when set, every compaction that actually
	// occurs increments CompactionCounter by strategy.
	Metrics *observability.Metrics
}

// New constructs a Compactor.
func New(cfg Config, provider llm.Provider) *Compactor {
	return &Compactor{cfg: cfg, provider: provider}
}

func (c *Compactor) recordCompaction(outcome Outcome) {
	if c.Metrics == nil || !outcome.Compacted {
		return
	}
	c.Metrics.CompactionCounter.WithLabelValues(string(outcome.Event.Strategy)).Inc()
}

// Compact runs the algorithm from spec.md §4.2. attempt is the 1-based
// compaction attempt ordinal within the current loop run, used only for the
// returned event's Attempt field.
func (c *Compactor) Compact(ctx context.Context, messages []models.Message, force bool, trigger models.CompactionTrigger, attempt int) Outcome {
	outcome := c.compact(ctx, messages, force, trigger, attempt)
	c.recordCompaction(outcome)
	return outcome
}

func (c *Compactor) compact(ctx context.Context, messages []models.Message, force bool, trigger models.CompactionTrigger, attempt int) Outcome {
	before := tokens.Estimate(messages)

	if len(messages) == 0 {
		return Outcome{Compacted: false}
	}
	if !force && before < c.cfg.CompactTrigger {
		return Outcome{Compacted: false}
	}

	oldMsgs, recentMsgs, ok := splitByTurns(messages, c.cfg.KeepLastTurns)
	if len(oldMsgs) == 0 {
		if !force {
			return Outcome{Compacted: false}
		}
		oldMsgs, recentMsgs, ok = splitByTurns(messages, 1)
		if len(oldMsgs) == 0 {
			if len(messages) <= 1 {
				return Outcome{Compacted: false}
			}
			oldMsgs = messages[:len(messages)-1]
			recentMsgs = messages[len(messages)-1:]
		}
	}
	_ = ok

	summary, err := llm.Summarize(ctx, c.provider, oldMsgs, c.cfg.SummaryMaxTokens)
	if err != nil {
		return c.fallback(messages, before, force, trigger, attempt, "fallback")
	}

	next := append([]models.Message{{Role: models.RoleAssistant, Text: summary}}, recentMsgs...)
	afterTokens := tokens.Estimate(next)

	if afterTokens <= c.cfg.CompactTarget && afterTokens < before {
		reason := "summary"
		if force {
			reason = "force-summary"
		}
		return Outcome{
			Compacted: true,
			Messages:  next,
			Event: models.CompactionEvent{
				Attempt:            attempt,
				Trigger:            trigger,
				Strategy:           models.StrategySummary,
				Forced:             force,
				BeforeMessageCount: len(messages),
				AfterMessageCount:  len(next),
				BeforeTokens:       before,
				AfterTokens:        afterTokens,
				Reason:             reason,
			},
		}
	}

	return c.fallback(messages, before, force, trigger, attempt, "summary-too-large")
}

// fallback prunes reasoning/tool-call/empty messages and retains only the
// last KeepLastTurns turns, per spec.md §4.2 step 8.
func (c *Compactor) fallback(messages []models.Message, before int, force bool, trigger models.CompactionTrigger, attempt int, reason string) Outcome {
	pruned := prune(messages)
	_, recent, _ := splitByTurns(pruned, c.cfg.KeepLastTurns)
	if len(recent) == 0 {
		recent = pruned
	}
	after := tokens.Estimate(recent)

	strategy := models.StrategyFallback
	if reason == "summary-too-large" {
		strategy = models.StrategySummaryTooLarge
	}

	if after >= before {
		// Per the §4.2 invariant: report did-not-compact if no strategy
		// achieves a strictly smaller token count.
		return Outcome{Compacted: false}
	}

	return Outcome{
		Compacted: true,
		Messages:  recent,
		Event: models.CompactionEvent{
			Attempt:            attempt,
			Trigger:            trigger,
			Strategy:           strategy,
			Forced:             force,
			BeforeMessageCount: len(messages),
			AfterMessageCount:  len(recent),
			BeforeTokens:       before,
			AfterTokens:        after,
			Reason:             reason,
		},
	}
}

// splitByTurns finds the index of the (count-keepLastTurns)-th user message
// and partitions messages at it. If there are <= keepLastTurns user turns,
// the whole list is "recent" and "old" is empty.
func splitByTurns(messages []models.Message, keepLastTurns int) (old, recent []models.Message, didSplit bool) {
	var userIdx []int
	for i, m := range messages {
		if m.Role == models.RoleUser {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= keepLastTurns {
		return nil, messages, false
	}
	cutUserOrdinal := len(userIdx) - keepLastTurns
	cutIndex := userIdx[cutUserOrdinal]
	return messages[:cutIndex], messages[cutIndex:], true
}

// prune drops reasoning parts, tool-call/tool-result-only messages, and
// empty messages, matching spec.md §4.2 step 8's "pruned" list.
func prune(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.HasParts() {
			hasUsefulPart := false
			var kept []models.Part
			for _, p := range m.Parts {
				if p.Kind == models.PartText {
					hasUsefulPart = true
				}
				if p.Kind != models.PartReasoning {
					kept = append(kept, p)
				}
			}
			if !hasUsefulPart {
				continue
			}
			m.Parts = kept
		} else if m.Text == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
