package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaykit/agentcore/internal/agent"
	"github.com/relaykit/agentcore/internal/channels"
	"github.com/relaykit/agentcore/internal/clarify"
	"github.com/relaykit/agentcore/internal/commands"
	"github.com/relaykit/agentcore/internal/compaction"
	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions/memstore"
	"github.com/relaykit/agentcore/internal/tools"
	"github.com/relaykit/agentcore/pkg/models"
)

type fakeProvider struct{}

func (fakeProvider) Name() string           { return "fake" }
func (fakeProvider) Models() []llm.ModelInfo { return nil }
func (fakeProvider) SupportsTools() bool     { return false }

func (fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{TextDelta: "hi"}
	close(ch)
	future := llm.NewResultFuture()
	future.Resolve(llm.Result{Text: "hi", FinishReason: llm.FinishStop})
	return ch, future, nil
}

type fakeAdapter struct {
	msg channels.IncomingMessage
	ok  bool
}

func (a fakeAdapter) VerifyRequest(r *http.Request) bool { return true }
func (a fakeAdapter) ParseIncoming(r *http.Request) (channels.IncomingMessage, bool, error) {
	return a.msg, a.ok, nil
}
func (a fakeAdapter) AckRequest(ctx context.Context, w http.ResponseWriter, in channels.IncomingMessage) {
	w.WriteHeader(http.StatusOK)
}
func (a fakeAdapter) CreateStreamHandle(in channels.IncomingMessage, streamID string) channels.StreamHandle {
	return &fakeSink{done: make(chan struct{})}
}

type fakeSink struct {
	done   chan struct{}
	result channels.Result
}

func (s *fakeSink) OnText(string)                                 {}
func (s *fakeSink) OnToolCall(string, json.RawMessage)            {}
func (s *fakeSink) OnToolResult(string, json.RawMessage, bool)     {}
func (s *fakeSink) OnClarification(string, *string)                {}
func (s *fakeSink) OnDone(result channels.Result) {
	s.result = result
	close(s.done)
}
func (s *fakeSink) OnError(error) { close(s.done) }

func newTestDispatcher() *Dispatcher {
	store := memstore.New()
	runRegistry := runs.New()
	router := commands.New(store, runRegistry)
	toolRegistry := tools.New()
	compactor := compaction.New(compaction.DefaultConfig(8000), fakeProvider{})
	loop := agent.New(fakeProvider{}, toolRegistry, compactor)
	return New(store, runRegistry, router, loop, hooks.New(), clarify.New(), Defaults{Bounds: agent.DefaultBounds()})
}

func TestHandleRunsLoopAndSavesSession(t *testing.T) {
	d := newTestDispatcher()
	adapter := fakeAdapter{msg: channels.IncomingMessage{PlatformKey: "web:1", Text: "hello"}, ok: true}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	d.Handle(context.Background(), adapter, rec, req)

	deadline := time.After(2 * time.Second)
	for {
		if !d.Runs.HasActiveRun("web:1") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for run to finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	session, ok, err := d.Sessions.GetCurrent(context.Background(), "web:1")
	if err != nil || !ok {
		t.Fatalf("expected a saved session, err=%v ok=%v", err, ok)
	}
	if len(session.Context.Messages) == 0 {
		t.Fatalf("expected session to have messages")
	}
}

func TestHandleNoMessageAcksOnly(t *testing.T) {
	d := newTestDispatcher()
	adapter := fakeAdapter{ok: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	d.Handle(context.Background(), adapter, rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
