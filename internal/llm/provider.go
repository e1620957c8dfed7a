// Package llm defines the streaming LLM provider abstraction the agent loop
// depends on. Concrete backends live in subpackages (anthropic, openai); the
// loop never imports them directly — it is wired a Provider at construction.
package llm

import (
	"context"
	"encoding/json"

	"github.com/relaykit/agentcore/pkg/models"
)

// FinishReason is the terminal state of one streaming completion.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls      FinishReason = "tool-calls"
	FinishLength         FinishReason = "length"
	FinishContentFilter  FinishReason = "content-filter"
	FinishError          FinishReason = "error"
)

// Tool is the schema-level shape of a tool as presented to the model. It is
// distinct from internal/tools.Tool, which additionally knows how to execute.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// SystemPromptOverride composes a base system prompt. Exactly one of Value or
// Func should be set; Append, if non-empty, is appended to whichever wins.
type SystemPromptOverride struct {
	Value  string
	Func   func(base string) string
	Append string
}

// Resolve applies the override to base.
func (o *SystemPromptOverride) Resolve(base string) string {
	if o == nil {
		return base
	}
	out := base
	if o.Func != nil {
		out = o.Func(base)
	} else if o.Value != "" {
		out = o.Value
	}
	if o.Append != "" {
		out += "\n\n" + o.Append
	}
	return out
}

// CompletionRequest is one streaming generation request.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []models.Message
	Tools    []Tool

	MaxTokens int

	// Provider/model overrides let a caller pin a specific backend for this
	// call without the core depending on provider identity elsewhere.
	ProviderOverride string
	ModelOverride    string

	// OnStep is an optional per-step callback carried on the request; the
	// anthropic and openai providers do not call it (they report step ends
	// as StepFinish chunks instead).
	OnStep func(step int)
}

// Chunk is one tagged event in a completion's chunk stream. Exactly one of
// the payload fields is meaningful per chunk, selected by which is non-zero.
type Chunk struct {
	TextDelta string

	ToolCallID    string
	ToolCallName  string
	ToolCallInput json.RawMessage

	ToolResultID     string
	ToolResultName   string
	ToolResultOutput json.RawMessage

	// StepFinish, when true, marks the end of one generation step; Step is
	// the 1-based step ordinal just completed.
	StepFinish bool
	Step       int
}

// Result is the resolved outcome of a completion, available once the chunk
// channel has closed.
type Result struct {
	Text         string
	Messages     []models.Message // response messages to append to the Context
	Steps        int
	FinishReason FinishReason
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider is a streaming LLM backend. Implementations must be safe for
// concurrent use — multiple goroutines may call Complete for different runs
// simultaneously — and must never panic out of the returned channel; errors
// are surfaced by closing the channel and resolving the ResultFuture with a
// final Result.
type Provider interface {
	// Complete starts a streaming generation. The returned channel is closed
	// when the stream ends (successfully, on error, or on ctx cancellation).
	// Call Get on the returned ResultFuture after draining the channel to get
	// the final Result.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan Chunk, *ResultFuture, error)

	Name() string
	Models() []ModelInfo
	SupportsTools() bool
}

// ModelInfo describes one model a Provider can target.
type ModelInfo struct {
	ID             string
	Name           string
	ContextTokens  int
	SupportsVision bool
}

// ResultFuture resolves once the chunk channel returned alongside it has
// been fully drained. Reading Get before the channel closes blocks.
type ResultFuture struct {
	done chan struct{}
	res  Result
}

// NewResultFuture creates an unresolved future.
func NewResultFuture() *ResultFuture {
	return &ResultFuture{done: make(chan struct{})}
}

// Resolve is called exactly once by the provider implementation.
func (f *ResultFuture) Resolve(r Result) {
	f.res = r
	close(f.done)
}

// Get blocks until Resolve has been called or ctx is cancelled.
func (f *ResultFuture) Get(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
