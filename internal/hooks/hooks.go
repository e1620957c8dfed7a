// Package hooks implements the seven named hook points invoked around each
// LLM call, tool call, and compaction event. All seven run sequentially in
// registration order; none fan out in parallel, since a mutating hook's
// result must be visible to the next hook of the same name.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/pkg/models"
)

// Name identifies one of the seven hook points.
type Name string

const (
	BeforeRun      Name = "beforeRun"
	AfterRun       Name = "afterRun"
	BeforeLLMCall  Name = "beforeLLMCall"
	AfterLLMCall   Name = "afterLLMCall"
	BeforeToolCall Name = "beforeToolCall"
	AfterToolCall  Name = "afterToolCall"
	OnCompacted    Name = "onCompacted"
)

// allNames lists the seven valid hook names, used to validate registration.
var allNames = map[Name]bool{
	BeforeRun: true, AfterRun: true, BeforeLLMCall: true, AfterLLMCall: true,
	BeforeToolCall: true, AfterToolCall: true, OnCompacted: true,
}

// Event carries the mutable/observable state passed to a single hook
// invocation. Only the fields relevant to the firing hook name are
// meaningful; a handler reads what it needs and returns a Result with the
// fields it wants to change.
type Event struct {
	SystemPrompt string
	Tools        []llm.Tool

	ToolName  string
	ToolInput []byte

	ToolOutput []byte

	Compaction *models.CompactionEvent
}

// Result is what a handler returns. Zero-value fields (nil slice, empty
// string) mean "no change" — a handler cannot clear SystemPrompt to empty
// once set, which matches hooks being additive/replacing, never erasing.
type Result struct {
	SystemPrompt string
	Tools        []llm.Tool
	ToolInput    []byte
	ToolOutput   []byte
}

// Handler is one registered hook function. It returns a Result describing
// any fields it wants to replace, or an error. An error stops the remaining
// handlers of that hook point; only beforeToolCall turns it into an aborted
// call (a tool error). The loop ignores errors from the other hook points,
// and onCompacted errors are swallowed per spec.
type Handler func(ctx context.Context, ev *Event) (Result, error)

// Registration pairs a handler with the hook name it is registered under.
// It carries no ordering field; within one Registry, append order defines
// the order handlers run in.
type Registration struct {
	Name    Name
	Handler Handler
}

// Registry is an append-only, ordered collection of handlers per hook name.
// Safe for concurrent registration; intended to be closed for writes before
// any run starts (spec.md §4.10: "hooks must not be added from within the
// running loop").
type Registry struct {
	mu       sync.Mutex
	handlers map[Name][]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[Name][]Handler)}
}

// Register appends handler to the named hook's list, in registration order.
func (r *Registry) Register(name Name, handler Handler) error {
	if !allNames[name] {
		return fmt.Errorf("hooks: unknown hook name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], handler)
	return nil
}

// Snapshot returns the current handler list for name, safe to iterate
// without holding the registry lock. Callers materialize this once at loop
// entry per spec.md §9 ("materialize per-run hook lists at loop entry").
func (r *Registry) Snapshot(name Name) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handler, len(r.handlers[name]))
	copy(out, r.handlers[name])
	return out
}

// Run invokes every handler for name in order, threading mutable fields
// through: each handler sees the Event as left by the previous handler, and
// a non-empty field in its Result replaces the corresponding Event field
// before the next handler runs. Returns the final Event and the first
// error from a handler (execution stops at the first error), except for
// OnCompacted, whose errors are always swallowed per spec.md §4.5.
func Run(ctx context.Context, handlers []Handler, ev *Event, name Name) (*Event, error) {
	for _, h := range handlers {
		res, err := safeCall(h, ctx, ev)
		if err != nil {
			if name == OnCompacted {
				continue
			}
			return ev, err
		}
		mergeInto(ev, res)
	}
	return ev, nil
}

func mergeInto(ev *Event, res Result) {
	if res.SystemPrompt != "" {
		ev.SystemPrompt = res.SystemPrompt
	}
	if res.Tools != nil {
		ev.Tools = res.Tools
	}
	if res.ToolInput != nil {
		ev.ToolInput = res.ToolInput
	}
	if res.ToolOutput != nil {
		ev.ToolOutput = res.ToolOutput
	}
}

// safeCall recovers a panicking handler and turns it into an error so one
// misbehaving plugin hook cannot crash the run.
func safeCall(h Handler, ctx context.Context, ev *Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hooks: handler panicked: %v", r)
		}
	}()
	return h(ctx, ev)
}
