// Package agent implements the agent loop (C6): the state machine that
// alternates compaction, LLM streaming, and tool execution until the model
// emits a terminal answer. Grounded on the teacher's internal/agent/loop.go
// phase-method decomposition (streamPhase/executeToolsPhase/continuePhase)
// and callback-struct idiom; the iteration algorithm itself follows
// SPEC_FULL.md §4.6's exact counters, bounds, and finish-reason dispatch,
// which differ from the teacher's own thresholds.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/agentcore/internal/backoff"
	"github.com/relaykit/agentcore/internal/compaction"
	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/observability"
	"github.com/relaykit/agentcore/internal/tools"
	"github.com/relaykit/agentcore/pkg/models"
)

// Bounds are the loop's configurable retry/step/compaction ceilings.
type Bounds struct {
	MaxErrorCount         int
	MaxSteps              int
	MaxCompactionAttempts int
}

// DefaultBounds returns spec.md §4.6's defaults.
func DefaultBounds() Bounds {
	return Bounds{MaxErrorCount: 3, MaxSteps: 50, MaxCompactionAttempts: 2}
}

// Callbacks are the per-run observation hooks a caller (the dispatcher)
// wires to its platform stream sink. Any of them may be nil.
type Callbacks struct {
	OnText                 func(delta string)
	OnToolCall             func(name string, input json.RawMessage)
	OnToolResult           func(name string, result tools.Result)
	OnResponse             func(messages []models.Message)
	OnCompacted            func(event models.CompactionEvent)
	OnClarificationRequest func(ctx context.Context, prompt string, defaultAnswer *string) (string, error)
}

// HookSet materializes, once at loop entry, the ordered handler list for
// each of the seven hook points (spec.md §9: "avoid dynamic dispatch loops
// by materializing per-run hook lists at loop entry").
type HookSet struct {
	BeforeRun      []hooks.Handler
	AfterRun       []hooks.Handler
	BeforeLLMCall  []hooks.Handler
	AfterLLMCall   []hooks.Handler
	BeforeToolCall []hooks.Handler
	AfterToolCall  []hooks.Handler
	OnCompacted    []hooks.Handler
}

// Options configures a single Run.
type Options struct {
	Callbacks Callbacks
	Hooks     HookSet

	Provider llm.Provider // overrides Loop.Provider for this run if set
	Model    string
	System   string

	Bounds Bounds
}

// Loop is the agent loop. A Loop is stateless between runs — all per-run
// state lives in the arguments to Run — so one Loop can safely drive many
// concurrent runs (spec.md §5: the registry, not the loop, enforces
// per-platformKey exclusivity).
type Loop struct {
	Provider  llm.Provider
	Tools     *tools.Registry
	Compactor *compaction.Compactor

	// Tracer is optional; when set, each provider completion and each
	// tool call within a run opens a span.
	Tracer *observability.Tracer

	// Metrics is optional; when set, every completion call's latency is
	// observed by provider and model.
	Metrics *observability.Metrics
}

// New constructs a Loop.
func New(provider llm.Provider, toolRegistry *tools.Registry, compactor *compaction.Compactor) *Loop {
	return &Loop{Provider: provider, Tools: toolRegistry, Compactor: compactor}
}

// Run drives one execution of the loop against c, mutating c.Messages in
// place as turns are appended and as compaction replaces the prefix. It
// returns the loop's terminal user-visible text, never an error — every
// failure kind named in spec.md §7 resolves to a returned string instead
// (the dispatcher is responsible for distinguishing an aborted run from a
// completed one via ctx, not by parsing this string).
func (l *Loop) Run(ctx context.Context, c *models.Context, opts Options) string {
	bounds := opts.Bounds
	if bounds.MaxSteps == 0 {
		bounds = DefaultBounds()
	}
	provider := opts.Provider
	if provider == nil {
		provider = l.Provider
	}

	systemPrompt := opts.System
	toolDescriptors := l.Tools.Descriptors()

	runEv := &hooks.Event{SystemPrompt: systemPrompt, Tools: toolDescriptors}
	runEv, _ = hooks.Run(ctx, opts.Hooks.BeforeRun, runEv, hooks.BeforeRun)
	systemPrompt = runEv.SystemPrompt
	toolDescriptors = runEv.Tools

	var (
		errorCount         int
		totalSteps         int
		compactionAttempts int
	)

	finish := func(text string) string {
		hooks.Run(ctx, opts.Hooks.AfterRun, &hooks.Event{}, hooks.AfterRun)
		return text
	}

	for {
		if ctx.Err() != nil {
			return finish("Request aborted.")
		}

		if compactionAttempts < bounds.MaxCompactionAttempts {
			outcome := l.Compactor.Compact(ctx, c.Messages, false, models.TriggerPreLoop, compactionAttempts+1)
			if outcome.Compacted {
				compactionAttempts++
				c.Messages = outcome.Messages
				if opts.Callbacks.OnCompacted != nil {
					opts.Callbacks.OnCompacted(outcome.Event)
				}
				hooks.Run(ctx, opts.Hooks.OnCompacted, &hooks.Event{Compaction: &outcome.Event}, hooks.OnCompacted)
				continue
			}
		}

		llmEv := &hooks.Event{SystemPrompt: systemPrompt, Tools: toolDescriptors}
		llmEv, _ = hooks.Run(ctx, opts.Hooks.BeforeLLMCall, llmEv, hooks.BeforeLLMCall)
		systemPrompt = llmEv.SystemPrompt
		toolDescriptors = llmEv.Tools

		llmCtx := ctx
		var llmSpan trace.Span
		if l.Tracer != nil {
			llmCtx, llmSpan = l.Tracer.StartLLMCall(ctx, provider.Name(), opts.Model)
		}
		result, err := l.runOneCompletion(llmCtx, provider, c.Messages, systemPrompt, toolDescriptors, opts)
		if llmSpan != nil {
			l.Tracer.RecordError(llmSpan, err)
			llmSpan.End()
		}
		if err != nil {
			if ctx.Err() != nil {
				return finish("Request aborted.")
			}
			errorCount++
			if errorCount >= bounds.MaxErrorCount {
				return finish(fmt.Sprintf("Failed after %d errors: %s", errorCount, err.Error()))
			}
			if isRetryable(err) {
				if sleepErr := backoff.SleepWithBackoff(ctx, backoff.RetryPolicy(), errorCount); sleepErr != nil {
					return finish("Request aborted.")
				}
				continue
			}
			return finish("Error: " + err.Error())
		}

		totalSteps += result.Steps
		if len(result.Messages) > 0 && opts.Callbacks.OnResponse != nil {
			opts.Callbacks.OnResponse(result.Messages)
		}
		c.Messages = append(c.Messages, result.Messages...)

		hooks.Run(ctx, opts.Hooks.AfterLLMCall, &hooks.Event{}, hooks.AfterLLMCall)

		switch result.FinishReason {
		case llm.FinishStop:
			if result.Text == "" {
				// Open question #1: re-enter, bounded by MAX_STEPS.
				if totalSteps >= bounds.MaxSteps {
					return finish("Max steps reached, task may be incomplete.")
				}
				continue
			}
			return finish(result.Text)

		case llm.FinishLength:
			if compactionAttempts < bounds.MaxCompactionAttempts {
				outcome := l.Compactor.Compact(ctx, c.Messages, true, models.TriggerLengthRetry, compactionAttempts+1)
				if outcome.Compacted {
					compactionAttempts++
					c.Messages = outcome.Messages
					if opts.Callbacks.OnCompacted != nil {
						opts.Callbacks.OnCompacted(outcome.Event)
					}
					hooks.Run(ctx, opts.Hooks.OnCompacted, &hooks.Event{Compaction: &outcome.Event}, hooks.OnCompacted)
					continue
				}
			}
			if result.Text != "" {
				return finish(result.Text)
			}
			return finish("Context limit reached.")

		case llm.FinishContentFilter:
			if result.Text != "" {
				return finish(result.Text)
			}
			return finish("Content filtered.")

		case llm.FinishError:
			if result.Text != "" {
				return finish(result.Text)
			}
			return finish("Task failed.")

		case llm.FinishToolCalls:
			if totalSteps >= bounds.MaxSteps {
				if result.Text != "" {
					return finish(result.Text)
				}
				return finish("Max steps reached, task may be incomplete.")
			}
			if toolErr := l.executeToolCalls(ctx, c, result.Messages, opts); toolErr != nil {
				if ctx.Err() != nil {
					return finish("Request aborted.")
				}
			}
			continue

		default:
			if result.Text != "" {
				return finish(result.Text)
			}
			return finish("Task completed.")
		}
	}
}

// runOneCompletion starts a single streaming completion and drains its chunk
// channel, forwarding events to the run's callbacks, then awaits the final
// Result.
func (l *Loop) runOneCompletion(ctx context.Context, provider llm.Provider, messages []models.Message, system string, toolDescriptors []llm.Tool, opts Options) (llm.Result, error) {
	start := time.Now()
	defer func() {
		if l.Metrics != nil {
			l.Metrics.LLMRequestDuration.WithLabelValues(provider.Name(), opts.Model).Observe(time.Since(start).Seconds())
		}
	}()

	req := &llm.CompletionRequest{
		System:        system,
		Messages:      messages,
		Tools:         toolDescriptors,
		ModelOverride: opts.Model,
	}
	chunks, future, err := provider.Complete(ctx, req)
	if err != nil {
		return llm.Result{}, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := range chunks {
			switch {
			case c.TextDelta != "":
				if opts.Callbacks.OnText != nil {
					opts.Callbacks.OnText(c.TextDelta)
				}
			case c.ToolCallName != "":
				if opts.Callbacks.OnToolCall != nil {
					opts.Callbacks.OnToolCall(c.ToolCallName, c.ToolCallInput)
				}
			case c.ToolResultName != "":
				if opts.Callbacks.OnToolResult != nil {
					opts.Callbacks.OnToolResult(c.ToolResultName, tools.Result{Output: c.ToolResultOutput})
				}
			}
		}
	}()

	res, err := future.Get(ctx)
	wg.Wait()
	if err != nil {
		return llm.Result{}, err
	}
	if res.Err != nil {
		return llm.Result{}, res.Err
	}
	return res, nil
}

// executeToolCalls runs every tool-call part in responseMessages through the
// tool registry's hook-wrapped execution contract (spec.md §4.4), appending
// the resulting tool-result messages to c.Messages.
func (l *Loop) executeToolCalls(ctx context.Context, c *models.Context, responseMessages []models.Message, opts Options) error {
	for _, m := range responseMessages {
		for _, part := range m.Parts {
			if part.Kind != models.PartToolCall {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			toolCtx := ctx
			var toolSpan trace.Span
			if l.Tracer != nil {
				toolCtx, toolSpan = l.Tracer.StartToolCall(ctx, part.ToolName)
			}

			ec := tools.ExecutionContext{
				Context: toolCtx,
				RequestClarification: func(cctx context.Context, prompt string, def *string) (string, error) {
					if opts.Callbacks.OnClarificationRequest == nil {
						return "", errors.New("agent: no clarification channel configured")
					}
					return opts.Callbacks.OnClarificationRequest(cctx, prompt, def)
				},
			}

			result, _ := l.Tools.Execute(ec, part.ToolName, part.Input, opts.Hooks.BeforeToolCall, opts.Hooks.AfterToolCall)

			if toolSpan != nil {
				if result.IsError {
					l.Tracer.RecordError(toolSpan, fmt.Errorf("tool %s returned an error result", part.ToolName))
				}
				toolSpan.End()
			}

			if opts.Callbacks.OnToolResult != nil {
				opts.Callbacks.OnToolResult(part.ToolName, result)
			}

			c.Messages = append(c.Messages, models.Message{
				Role: models.RoleTool,
				Parts: []models.Part{{
					Kind:     models.PartToolResult,
					ID:       part.ID,
					ToolName: part.ToolName,
					Output:   result.Output,
					IsError:  result.IsError,
				}},
			})
		}
	}
	return nil
}

// retryableError is implemented by provider errors that carry an HTTP
// status code, letting isRetryable check the 429/500/502/503 set from
// spec.md §7 kind 1 without depending on any one provider's error type.
type retryableError interface {
	StatusCode() int
}

func isRetryable(err error) bool {
	var re retryableError
	if errors.As(err, &re) {
		switch re.StatusCode() {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
			return true
		}
	}
	return false
}
