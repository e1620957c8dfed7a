// Package tools implements the name->Tool registry and the hook-wrapped
// execution contract described in spec.md §4.4.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/observability"
)

// ExecutionContext is passed to Tool.Execute in addition to the validated
// input. It carries the cancellation signal, a clarification callback, and
// the run's opaque context bag.
type ExecutionContext struct {
	Context context.Context

	// RequestClarification asks the user a question mid-run and blocks for
	// the answer (see internal/clarify). Nil if the loop wasn't configured
	// with a clarification channel.
	RequestClarification func(ctx context.Context, prompt string, defaultAnswer *string) (string, error)

	RunBag map[string]string
}

// Tool is a named, schema-described, executable capability.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ec ExecutionContext, input json.RawMessage) (json.RawMessage, error)
}

// Result is the outcome of a wrapped tool execution.
type Result struct {
	Output  json.RawMessage
	IsError bool
}

type entry struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry maps tool names to executables. Registration after plugin
// initialization is still possible but is not safe to do concurrently with
// Execute calls from a running loop — spec.md treats the tool registry as
// read-only once plugin bring-up completes.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry

	// Metrics is optional; when set, every Execute call records a
	// counter (by tool name and ok/error/invalid_input/unknown_tool
	// status) and a duration observation.
	Metrics *observability.Metrics
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds t under its own name. Returns an error if the name already
// exists, unless replace is true.
func (r *Registry) Register(t Tool, replace bool) error {
	if t.Name() == "" {
		return fmt.Errorf("tools: tool name must not be empty")
	}
	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists && !replace {
		return fmt.Errorf("tools: tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = entry{tool: t, compiled: compiled}
	return nil
}

// RegisterMany registers each tool, stopping at the first error.
func (r *Registry) RegisterMany(ts []Tool, replace bool) error {
	for _, t := range ts {
		if err := r.Register(t, replace); err != nil {
			return err
		}
	}
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	resource := "mem://" + name + ".json"
	if err := c.AddResource(resource, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("tools: compiling schema for %q: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tools: compiling schema for %q: %w", name, err)
	}
	return compiled, nil
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	return out
}

// Descriptors returns the LLM-facing schema list for every registered tool.
func (r *Registry) Descriptors() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.tools))
	for name, e := range r.tools {
		out = append(out, llm.Tool{
			Name:        name,
			Description: e.tool.Description(),
			InputSchema: e.tool.Schema(),
		})
	}
	return out
}

// Execute runs the hook-wrapped tool-execution contract from spec.md §4.4:
// validate input against schema, run beforeToolCall hooks (which may
// replace input), call Execute, run afterToolCall hooks (which may replace
// output). Validation failure and hook-initiated abort both produce a
// Result{IsError:true} rather than an error, matching "tool input invalid"
// / "tool execution failure" being per-call, non-fatal outcomes (spec.md §7
// kinds 4-5).
func (r *Registry) Execute(ec ExecutionContext, name string, input json.RawMessage, before, after []hooks.Handler) (Result, error) {
	start := time.Now()
	status := "ok"
	defer func() { r.recordExecution(name, status, time.Since(start)) }()

	t, ok := r.Get(name)
	if !ok {
		status = "unknown_tool"
		return Result{Output: json.RawMessage(fmt.Sprintf("%q", "unknown tool: "+name)), IsError: true}, nil
	}

	ev := &hooks.Event{ToolName: name, ToolInput: input}
	ev, err := hooks.Run(ec.Context, before, ev, hooks.BeforeToolCall)
	if err != nil {
		status = "error"
		return Result{Output: errJSON(err), IsError: true}, nil
	}
	finalInput := ev.ToolInput

	r.mu.RLock()
	schema := r.tools[name].compiled
	r.mu.RUnlock()
	if schema != nil {
		var v any
		if err := json.Unmarshal(finalInput, &v); err != nil {
			status = "invalid_input"
			return Result{Output: errJSON(fmt.Errorf("invalid JSON input: %w", err)), IsError: true}, nil
		}
		if err := schema.Validate(v); err != nil {
			status = "invalid_input"
			return Result{Output: errJSON(fmt.Errorf("input validation failed: %w", err)), IsError: true}, nil
		}
	}

	output, execErr := t.Execute(ec, finalInput)
	isError := execErr != nil
	if execErr != nil {
		status = "error"
		output = errJSON(execErr)
	}

	ev2 := &hooks.Event{ToolName: name, ToolInput: finalInput, ToolOutput: output}
	ev2, hookErr := hooks.Run(ec.Context, after, ev2, hooks.AfterToolCall)
	if hookErr == nil {
		output = ev2.ToolOutput
	}

	return Result{Output: output, IsError: isError}, nil
}

func (r *Registry) recordExecution(name, status string, dur time.Duration) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	r.Metrics.ToolExecutionDuration.WithLabelValues(name).Observe(dur.Seconds())
}

func errJSON(err error) json.RawMessage {
	b, _ := json.Marshal(err.Error())
	return b
}
