// Package dispatch implements the dispatcher (C9): the per-request
// pipeline from an inbound platform request to a running agent loop and
// back. Grounded on the teacher's internal/gateway request-handling shape
// (verify -> parse -> command short-circuit -> busy gate -> stream) and
// internal/agent/runtime.go's wiring of loop callbacks to a platform
// sink; the ten-step sequence itself is SPEC_FULL.md §4.9's own.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/agentcore/internal/agent"
	"github.com/relaykit/agentcore/internal/channels"
	"github.com/relaykit/agentcore/internal/clarify"
	"github.com/relaykit/agentcore/internal/commands"
	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/observability"
	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions"
	"github.com/relaykit/agentcore/internal/tools"
	"github.com/relaykit/agentcore/pkg/models"
)

// Defaults configures the loop parameters a Dispatcher applies to every
// run unless a platform-specific override is added later.
type Defaults struct {
	Model  string
	System string
	Bounds agent.Bounds
}

// Dispatcher wires together the session store, active-run registry,
// command router, clarification channel, and agent loop into the
// request-handling pipeline described in spec.md §4.9.
type Dispatcher struct {
	Sessions sessions.Store
	Runs     *runs.Registry
	Commands *commands.Router
	Loop     *agent.Loop
	Hooks    *hooks.Registry
	Clarify  *clarify.Channel
	Defaults Defaults

	// Metrics and Tracer are optional; when set, every dispatched run
	// is counted, timed, and traced.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// New constructs a Dispatcher from its collaborators.
func New(store sessions.Store, runRegistry *runs.Registry, router *commands.Router, loop *agent.Loop, hookRegistry *hooks.Registry, clarifyChannel *clarify.Channel, defaults Defaults) *Dispatcher {
	return &Dispatcher{
		Sessions: store,
		Runs:     runRegistry,
		Commands: router,
		Loop:     loop,
		Hooks:    hookRegistry,
		Clarify:  clarifyChannel,
		Defaults: defaults,
	}
}

// Handle runs the full ten-step pipeline for one inbound HTTP request
// against adapter.
func (d *Dispatcher) Handle(ctx context.Context, adapter channels.Adapter, w http.ResponseWriter, r *http.Request) {
	// 1. verify
	if !adapter.VerifyRequest(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// 2. parse
	in, ok, err := adapter.ParseIncoming(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		adapter.AckRequest(ctx, w, in)
		return
	}

	// 3. command router short-circuit
	cmdResult := d.Commands.Route(ctx, in.PlatformKey, in.Text)
	switch cmdResult.Kind {
	case commands.KindHandled:
		adapter.AckRequest(ctx, w, in)
		sink := adapter.CreateStreamHandle(in, in.StreamID)
		sink.OnDone(channels.Result{Text: cmdResult.Message})
		return
	case commands.KindHandledSilent:
		adapter.AckRequest(ctx, w, in)
		return
	case commands.KindTransformed:
		in.Text = cmdResult.NewText
	}

	// 4. busy gate (commands already bypassed it inside Commands.Route via
	// the busy whitelist; a non-command message must still be rejected)
	if d.Runs.HasActiveRun(in.PlatformKey) {
		adapter.AckRequest(ctx, w, in)
		sink := adapter.CreateStreamHandle(in, in.StreamID)
		sink.OnDone(channels.Result{Text: "A run is already active for this session."})
		return
	}

	// 5. allocate streamId, cancellation handle, record ActiveRun
	streamID := in.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, ok := d.Runs.SetActiveRun(in.PlatformKey, streamID, cancel); !ok {
		cancel()
		adapter.AckRequest(ctx, w, in)
		sink := adapter.CreateStreamHandle(in, streamID)
		sink.OnDone(channels.Result{Text: "A run is already active for this session."})
		return
	}

	// 6. ack
	adapter.AckRequest(ctx, w, in)

	// 7. stream handle
	sink := adapter.CreateStreamHandle(in, streamID)

	// run steps 8-10 asynchronously so the HTTP handler returns promptly;
	// runCtx does not inherit ctx's cancellation, which net/http fires as
	// soon as the handler returns, so only the ActiveRun's handle ends it.
	go d.runToCompletion(runCtx, cancel, in, sink)
}

// runToCompletion performs steps 8-10: resolve/create the session, run
// the loop with callbacks wired to sink, save the session, and clear the
// ActiveRun.
func (d *Dispatcher) runToCompletion(ctx context.Context, cancel context.CancelFunc, in channels.IncomingMessage, sink channels.StreamHandle) {
	defer cancel()
	defer d.Runs.ClearActiveRun(in.PlatformKey)

	if d.Metrics != nil {
		d.Metrics.ActiveRuns.Inc()
		defer d.Metrics.ActiveRuns.Dec()
	}
	if d.Tracer != nil {
		var span trace.Span
		ctx, span = d.Tracer.StartRun(ctx, in.PlatformKey)
		defer span.End()
	}
	start := time.Now()

	session, err := d.Sessions.GetOrCreate(ctx, in.PlatformKey, in.ForceNewSession, in.MemoryKey)
	if err != nil {
		sink.OnError(fmt.Errorf("resolving session: %w", err))
		return
	}

	session.Context.Messages = append(session.Context.Messages, models.Message{
		Role: models.RoleUser,
		Text: in.Text,
	})

	opts := agent.Options{
		Provider: d.Loop.Provider,
		Model:    d.Defaults.Model,
		System:   d.Defaults.System,
		Bounds:   d.Defaults.Bounds,
		Hooks:    d.snapshotHooks(),
		Callbacks: agent.Callbacks{
			OnText:     sink.OnText,
			OnToolCall: sink.OnToolCall,
			OnToolResult: func(name string, result tools.Result) {
				sink.OnToolResult(name, result.Output, result.IsError)
			},
			OnCompacted: func(ev models.CompactionEvent) {
				session.Context.Messages = applyCompactionEvent(session.Context.Messages, ev)
			},
			OnClarificationRequest: func(cctx context.Context, prompt string, def *string) (string, error) {
				return d.Clarify.Request(cctx, in.PlatformKey, prompt, def, 0, func(req clarify.Request) {
					sink.OnClarification(req.Prompt, req.DefaultAnswer)
				})
			},
		},
	}

	text := d.Loop.Run(ctx, &session.Context, opts)

	if d.Metrics != nil {
		finishReason := "completed"
		if ctx.Err() != nil {
			finishReason = "aborted"
		}
		d.Metrics.RunCounter.WithLabelValues(finishReason).Inc()
		d.Metrics.RunDuration.WithLabelValues(platformLabel(in.PlatformKey)).Observe(time.Since(start).Seconds())
	}

	if err := d.Sessions.Save(ctx, session.ID, session.Context); err != nil {
		sink.OnError(fmt.Errorf("saving session: %w", err))
		return
	}
	sink.OnDone(channels.Result{Text: text})
}

// applyCompactionEvent is a placeholder hook point: the loop already
// mutates c.Messages directly during compaction, so the session's message
// slice is already current by the time OnCompacted fires. It exists so a
// future plugin-contributed hook can observe event metadata without the
// dispatcher itself depending on plugins.
func applyCompactionEvent(messages []models.Message, _ models.CompactionEvent) []models.Message {
	return messages
}

func (d *Dispatcher) snapshotHooks() agent.HookSet {
	if d.Hooks == nil {
		return agent.HookSet{}
	}
	return agent.HookSet{
		BeforeRun:      d.Hooks.Snapshot(hooks.BeforeRun),
		AfterRun:       d.Hooks.Snapshot(hooks.AfterRun),
		BeforeLLMCall:  d.Hooks.Snapshot(hooks.BeforeLLMCall),
		AfterLLMCall:   d.Hooks.Snapshot(hooks.AfterLLMCall),
		BeforeToolCall: d.Hooks.Snapshot(hooks.BeforeToolCall),
		AfterToolCall:  d.Hooks.Snapshot(hooks.AfterToolCall),
		OnCompacted:    d.Hooks.Snapshot(hooks.OnCompacted),
	}
}

// platformLabel extracts the leading "<platform>:" segment of a
// platformKey (e.g. "slack" from "slack:C1:U1") for use as a bounded-
// cardinality metric label, falling back to the whole key when there is
// no separator.
func platformLabel(platformKey string) string {
	if i := strings.IndexByte(platformKey, ':'); i >= 0 {
		return platformKey[:i]
	}
	return platformKey
}

// AbortActiveRun fires the cancellation handle for platformKey, per
// spec.md §4.9's cancellation semantics, and reports whether a run was
// active. The /stop command aborts through runs.Registry directly.
func (d *Dispatcher) AbortActiveRun(platformKey string) runs.AbortResult {
	return d.Runs.AbortActiveRun(platformKey)
}
