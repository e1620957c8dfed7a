package main

import (
	"context"
	"testing"

	"github.com/relaykit/agentcore/internal/agent"
	"github.com/relaykit/agentcore/internal/clarify"
	"github.com/relaykit/agentcore/internal/commands"
	"github.com/relaykit/agentcore/internal/compaction"
	"github.com/relaykit/agentcore/internal/dispatch"
	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions/memstore"
	"github.com/relaykit/agentcore/internal/tools"
)

type fakeProvider struct{}

func (fakeProvider) Name() string           { return "fake" }
func (fakeProvider) Models() []llm.ModelInfo { return nil }
func (fakeProvider) SupportsTools() bool     { return false }

func (fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{TextDelta: "hello"}
	close(ch)
	future := llm.NewResultFuture()
	future.Resolve(llm.Result{Text: "hello", FinishReason: llm.FinishStop})
	return ch, future, nil
}

// newTestRuntime builds a Runtime from in-process fakes only, bypassing
// NewRuntime's provider/credential requirements entirely.
func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	store := memstore.New()
	runRegistry := runs.New()
	router := commands.New(store, runRegistry)
	toolRegistry := tools.New()
	compactor := compaction.New(compaction.DefaultConfig(8000), fakeProvider{})
	loop := agent.New(fakeProvider{}, toolRegistry, compactor)
	dispatcher := dispatch.New(store, runRegistry, router, loop, hooks.New(), clarify.New(), dispatch.Defaults{
		Bounds: agent.DefaultBounds(),
	})
	return &Runtime{
		Sessions: store,
		Runs:     runRegistry,
		Tools:    toolRegistry,
		Loop:     loop,
		Router:   router,
		Clarify:  clarify.New(),
		Dispatch: dispatcher,
	}
}

func TestRunOnceReturnsResultAndSavesSession(t *testing.T) {
	rt := newTestRuntime(t)

	result, err := rt.RunOnce(context.Background(), "internal:1", "hi", false, "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK || result.Result != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PlatformKey != "internal:1" {
		t.Fatalf("expected platformKey to round-trip, got %q", result.PlatformKey)
	}

	session, ok, err := rt.Sessions.GetCurrentStatus(context.Background(), "internal:1")
	if err != nil || !ok {
		t.Fatalf("expected a saved session, err=%v ok=%v", err, ok)
	}
	if session.MessageCount == 0 {
		t.Fatalf("expected saved session to have messages")
	}
}
