package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/pkg/models"
)

type fakeProvider struct {
	summary string
	err     error
}

func (f *fakeProvider) Name() string                  { return "fake" }
func (f *fakeProvider) SupportsTools() bool            { return false }
func (f *fakeProvider) Models() []llm.ModelInfo        { return nil }
func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	ch := make(chan llm.Chunk, 1)
	future := llm.NewResultFuture()
	if f.err != nil {
		close(ch)
		future.Resolve(llm.Result{Err: f.err})
		return ch, future, nil
	}
	ch <- llm.Chunk{TextDelta: f.summary}
	close(ch)
	future.Resolve(llm.Result{Text: f.summary, FinishReason: llm.FinishStop})
	return ch, future, nil
}

func bigMessages(n int) []models.Message {
	var msgs []models.Message
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Message{Role: role, Text: strings.Repeat("x", 500)})
	}
	return msgs
}

func TestCompactNotTriggeredBelowThreshold(t *testing.T) {
	c := New(DefaultConfig(1000), &fakeProvider{summary: "short summary"})
	out := c.Compact(context.Background(), []models.Message{{Role: models.RoleUser, Text: "hi"}}, false, models.TriggerPreLoop, 1)
	if out.Compacted {
		t.Fatalf("expected no compaction for small context")
	}
}

func TestCompactSummarySuccess(t *testing.T) {
	cfg := DefaultConfig(4000)
	c := New(cfg, &fakeProvider{summary: "a brief summary of old turns"})
	out := c.Compact(context.Background(), bigMessages(40), false, models.TriggerPreLoop, 1)
	if !out.Compacted {
		t.Fatalf("expected compaction to trigger")
	}
	if out.Event.Strategy != models.StrategySummary {
		t.Fatalf("strategy = %v, want summary", out.Event.Strategy)
	}
	if !strings.HasPrefix(out.Messages[0].Text, "[COMPACTED_CONTEXT]") {
		t.Fatalf("summary message missing tag: %q", out.Messages[0].Text)
	}
	if out.Event.AfterTokens >= out.Event.BeforeTokens {
		t.Fatalf("after tokens %d should be less than before %d", out.Event.AfterTokens, out.Event.BeforeTokens)
	}
}

func TestCompactFallbackOnSummarizationFailure(t *testing.T) {
	cfg := DefaultConfig(1000)
	c := New(cfg, &fakeProvider{err: errBoom{}})
	out := c.Compact(context.Background(), bigMessages(40), false, models.TriggerPreLoop, 1)
	if !out.Compacted {
		t.Fatalf("expected fallback compaction")
	}
	if out.Event.Strategy != models.StrategyFallback {
		t.Fatalf("strategy = %v, want fallback", out.Event.Strategy)
	}
	if out.Event.AfterTokens >= out.Event.BeforeTokens {
		t.Fatalf("fallback must strictly reduce tokens")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
