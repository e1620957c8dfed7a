package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/relaykit/agentcore/internal/compaction"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/tools"
	"github.com/relaykit/agentcore/pkg/models"
)

// scriptedProvider drives the loop through a fixed sequence of completion
// outcomes, one per call to Complete. respond is invoked with the 1-based
// call ordinal.
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req *llm.CompletionRequest) (llm.Result, error)
}

func (p *scriptedProvider) Name() string           { return "scripted" }
func (p *scriptedProvider) Models() []llm.ModelInfo { return nil }
func (p *scriptedProvider) SupportsTools() bool     { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	res, err := p.respond(call, req)
	ch := make(chan llm.Chunk)
	close(ch)
	if err != nil {
		return ch, nil, err
	}
	future := llm.NewResultFuture()
	future.Resolve(res)
	return ch, future, nil
}

// httpError is a minimal retryableError implementation for exercising
// isRetryable without depending on a real provider package.
type httpError struct{ status int }

func (e httpError) Error() string   { return fmt.Sprintf("http %d", e.status) }
func (e httpError) StatusCode() int { return e.status }

// recordingTool appends its own name to a shared, mutex-guarded order slice
// every time Execute runs, so a test can assert call ordering.
type recordingTool struct {
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (t recordingTool) Name() string          { return t.name }
func (t recordingTool) Description() string   { return "records its own invocation" }
func (t recordingTool) Schema() json.RawMessage { return nil }
func (t recordingTool) Execute(ec tools.ExecutionContext, input json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	*t.order = append(*t.order, t.name)
	t.mu.Unlock()
	return json.RawMessage(`"ok"`), nil
}

func newTestLoop(provider llm.Provider, toolRegistry *tools.Registry) *Loop {
	compactor := compaction.New(compaction.DefaultConfig(8000), provider)
	return New(provider, toolRegistry, compactor)
}

func TestRunExecutesToolCallsInOrderAndAppendsResults(t *testing.T) {
	var order []string
	var mu sync.Mutex
	toolRegistry := tools.New()
	if err := toolRegistry.Register(recordingTool{name: "toolA", order: &order, mu: &mu}, false); err != nil {
		t.Fatalf("registering toolA: %v", err)
	}
	if err := toolRegistry.Register(recordingTool{name: "toolB", order: &order, mu: &mu}, false); err != nil {
		t.Fatalf("registering toolB: %v", err)
	}

	provider := &scriptedProvider{respond: func(call int, req *llm.CompletionRequest) (llm.Result, error) {
		if call == 1 {
			return llm.Result{
				FinishReason: llm.FinishToolCalls,
				Steps:        1,
				Messages: []models.Message{{
					Role: models.RoleAssistant,
					Parts: []models.Part{
						{Kind: models.PartToolCall, ID: "1", ToolName: "toolA", Input: json.RawMessage(`{}`)},
						{Kind: models.PartToolCall, ID: "2", ToolName: "toolB", Input: json.RawMessage(`{}`)},
					},
				}},
			}, nil
		}
		return llm.Result{Text: "done", FinishReason: llm.FinishStop, Steps: 1}, nil
	}}

	l := newTestLoop(provider, toolRegistry)
	c := &models.Context{Messages: []models.Message{{Role: models.RoleUser, Text: "go"}}}
	opts := Options{Bounds: Bounds{MaxErrorCount: 3, MaxSteps: 10, MaxCompactionAttempts: 0}}

	text := l.Run(context.Background(), c, opts)
	if text != "done" {
		t.Fatalf("expected final text %q, got %q", "done", text)
	}

	mu.Lock()
	gotOrder := append([]string(nil), order...)
	mu.Unlock()
	if len(gotOrder) != 2 || gotOrder[0] != "toolA" || gotOrder[1] != "toolB" {
		t.Fatalf("expected tools to execute in order [toolA toolB], got %v", gotOrder)
	}

	var toolResults []models.Part
	for _, m := range c.Messages {
		if m.Role != models.RoleTool {
			continue
		}
		toolResults = append(toolResults, m.Parts...)
	}
	if len(toolResults) != 2 {
		t.Fatalf("expected 2 tool-result parts appended, got %d", len(toolResults))
	}
	if toolResults[0].ID != "1" || toolResults[1].ID != "2" {
		t.Fatalf("expected tool-result parts to preserve call-id order, got %+v", toolResults)
	}
}

func TestRunRetriesRetryableErrorThenStopsAtMaxErrorCount(t *testing.T) {
	toolRegistry := tools.New()
	provider := &scriptedProvider{respond: func(call int, req *llm.CompletionRequest) (llm.Result, error) {
		return llm.Result{}, httpError{status: 503}
	}}

	l := newTestLoop(provider, toolRegistry)
	c := &models.Context{Messages: []models.Message{{Role: models.RoleUser, Text: "go"}}}
	opts := Options{Bounds: Bounds{MaxErrorCount: 2, MaxSteps: 10, MaxCompactionAttempts: 0}}

	text := l.Run(context.Background(), c, opts)

	want := "Failed after 2 errors: http 503"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected exactly 2 completion attempts (one retry, then exhaustion), got %d", calls)
	}
}

func TestRunStopsOnNonRetryableErrorWithoutRetrying(t *testing.T) {
	toolRegistry := tools.New()
	provider := &scriptedProvider{respond: func(call int, req *llm.CompletionRequest) (llm.Result, error) {
		return llm.Result{}, httpError{status: 400}
	}}

	l := newTestLoop(provider, toolRegistry)
	c := &models.Context{Messages: []models.Message{{Role: models.RoleUser, Text: "go"}}}
	opts := Options{Bounds: Bounds{MaxErrorCount: 3, MaxSteps: 10, MaxCompactionAttempts: 0}}

	text := l.Run(context.Background(), c, opts)
	if text != "Error: http 400" {
		t.Fatalf("expected immediate non-retryable error text, got %q", text)
	}
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a non-retryable error to stop after a single attempt, got %d calls", calls)
	}
}

func TestRunExhaustsCompactionAttemptsThenCallsProvider(t *testing.T) {
	provider := &scriptedProvider{respond: func(call int, req *llm.CompletionRequest) (llm.Result, error) {
		return llm.Result{Text: "done", FinishReason: llm.FinishStop, Steps: 1}, nil
	}}

	cfg := compaction.DefaultConfig(8000)
	cfg.CompactTrigger = 0
	cfg.CompactTarget = 1_000_000
	cfg.KeepLastTurns = 1
	compactor := compaction.New(cfg, provider)

	toolRegistry := tools.New()
	l := New(provider, toolRegistry, compactor)

	var compactedCount int
	c := &models.Context{Messages: []models.Message{
		{Role: models.RoleUser, Text: "one"},
		{Role: models.RoleAssistant, Text: "ack one"},
		{Role: models.RoleUser, Text: "two"},
		{Role: models.RoleAssistant, Text: "ack two"},
		{Role: models.RoleUser, Text: "three"},
	}}
	opts := Options{
		Bounds: Bounds{MaxErrorCount: 3, MaxSteps: 10, MaxCompactionAttempts: 1},
		Callbacks: Callbacks{
			OnCompacted: func(models.CompactionEvent) { compactedCount++ },
		},
	}

	text := l.Run(context.Background(), c, opts)
	if text != "done" {
		t.Fatalf("expected %q, got %q", "done", text)
	}
	if compactedCount != 1 {
		t.Fatalf("expected exactly 1 compaction event (bound at MaxCompactionAttempts=1), got %d", compactedCount)
	}

	mainCalls := 0
	provider.mu.Lock()
	mainCalls = provider.calls
	provider.mu.Unlock()
	// The compactor shares the same provider for its own Summarize call, so
	// total calls = 1 summarize + 1 main completion.
	if mainCalls != 2 {
		t.Fatalf("expected 1 summarize call + 1 main completion call, got %d total provider calls", mainCalls)
	}
}

func TestRunReturnsMaxStepsReachedOnceBoundExhausted(t *testing.T) {
	provider := &scriptedProvider{respond: func(call int, req *llm.CompletionRequest) (llm.Result, error) {
		// Every completion finishes with no text and no tool calls, forcing
		// the FinishStop re-entry branch to loop until MaxSteps is hit.
		return llm.Result{Text: "", FinishReason: llm.FinishStop, Steps: 1}, nil
	}}

	toolRegistry := tools.New()
	l := newTestLoop(provider, toolRegistry)
	c := &models.Context{Messages: []models.Message{{Role: models.RoleUser, Text: "go"}}}
	opts := Options{Bounds: Bounds{MaxErrorCount: 3, MaxSteps: 3, MaxCompactionAttempts: 0}}

	text := l.Run(context.Background(), c, opts)
	want := "Max steps reached, task may be incomplete."
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
	provider.mu.Lock()
	calls := provider.calls
	provider.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected exactly MaxSteps(3) completion calls before bailing, got %d", calls)
	}
}
