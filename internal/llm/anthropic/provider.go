// Package anthropic adapts Anthropic's streaming Messages API to the
// internal/llm.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive empty SSE events are
// tolerated before a stream is treated as malformed and aborted.
const maxEmptyStreamEvents = 50

// Config configures a Provider.
type Config struct {
	APIKey       string
	DefaultModel string
	MaxTokens    int
}

// Provider implements llm.Provider over Anthropic's Messages API.
type Provider struct {
	client       anthropicsdk.Client
	defaultModel string
	maxTokens    int
}

// New constructs a Provider. Returns an error if APIKey is empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: APIKey is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Provider{client: client, defaultModel: cfg.DefaultModel, maxTokens: cfg.MaxTokens}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Models() []llm.ModelInfo {
	return []llm.ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextTokens: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextTokens: 200000, SupportsVision: true},
	}
}

func (p *Provider) model(req *llm.CompletionRequest) string {
	if req.ModelOverride != "" {
		return req.ModelOverride
	}
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

// Complete issues a streaming Messages request and translates Anthropic's
// SSE event stream into the abstract llm.Chunk stream. It never sends a
// buffered error chunk — malformed-stream and transport errors are surfaced
// through the ResultFuture only.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	params := p.buildParams(req)
	future := llm.NewResultFuture()
	chunks := make(chan llm.Chunk, 16)

	go func() {
		defer close(chunks)

		stream := p.client.Messages.NewStreaming(ctx, params)

		var (
			textBuf       string
			responseMsgs  []models.Message
			steps         int
			finish        = llm.FinishStop
			inputTokens   int
			outputTokens  int
			emptyEvents   int
			curToolID     string
			curToolName   string
			curToolInput  string
			inToolUse     bool
			streamErr     error
		)

		for stream.Next() {
			event := stream.Current()
			sawContent := false

			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					inToolUse = true
					curToolID = block.ID
					curToolName = block.Name
					curToolInput = ""
					sawContent = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Text != "" {
					textBuf += delta.Text
					chunks <- llm.Chunk{TextDelta: delta.Text}
					sawContent = true
				}
				if delta.PartialJSON != "" {
					curToolInput += delta.PartialJSON
					sawContent = true
				}
			case "content_block_stop":
				if inToolUse {
					input := json.RawMessage(curToolInput)
					if !json.Valid(input) {
						input = json.RawMessage("{}")
					}
					chunks <- llm.Chunk{
						ToolCallID:    curToolID,
						ToolCallName:  curToolName,
						ToolCallInput: input,
					}
					responseMsgs = append(responseMsgs, models.Message{
						Role: models.RoleAssistant,
						Parts: []models.Part{{
							Kind:     models.PartToolCall,
							ID:       curToolID,
							ToolName: curToolName,
							Input:    input,
						}},
					})
					inToolUse = false
					sawContent = true
				}
			case "message_delta":
				d := event.AsMessageDelta()
				if d.Delta.StopReason != "" {
					finish = mapStopReason(string(d.Delta.StopReason))
				}
				if d.Usage.OutputTokens > 0 {
					outputTokens = int(d.Usage.OutputTokens)
				}
				sawContent = true
			case "message_start":
				u := event.AsMessageStart().Message.Usage
				inputTokens = int(u.InputTokens)
				sawContent = true
			case "message_stop":
				steps++
				chunks <- llm.Chunk{StepFinish: true, Step: steps}
				sawContent = true
			case "error":
				streamErr = fmt.Errorf("anthropic: stream error")
				sawContent = true
			}

			if sawContent {
				emptyEvents = 0
			} else {
				emptyEvents++
				if emptyEvents >= maxEmptyStreamEvents {
					streamErr = fmt.Errorf("anthropic: stream appears malformed: %d consecutive empty events", emptyEvents)
					break
				}
			}
		}

		if err := stream.Err(); err != nil && streamErr == nil {
			streamErr = fmt.Errorf("anthropic: %w", err)
		}

		if textBuf != "" {
			responseMsgs = append([]models.Message{{Role: models.RoleAssistant, Text: textBuf}}, responseMsgs...)
		}

		if streamErr != nil {
			finish = llm.FinishError
		}

		future.Resolve(llm.Result{
			Text:         textBuf,
			Messages:     responseMsgs,
			Steps:        steps,
			FinishReason: finish,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			Err:          streamErr,
		})
	}()

	return chunks, future, nil
}

func mapStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "tool_use":
		return llm.FinishToolCalls
	case "max_tokens":
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}

func (p *Provider) buildParams(req *llm.CompletionRequest) anthropicsdk.MessageNewParams {
	maxTokens := int64(p.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model(req)),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{},
			},
		})
	}
	return params
}

func toAnthropicMessage(m models.Message) anthropicsdk.MessageParam {
	role := anthropicsdk.MessageParamRoleUser
	if m.Role == models.RoleAssistant {
		role = anthropicsdk.MessageParamRoleAssistant
	}
	if !m.HasParts() {
		return anthropicsdk.MessageParam{
			Role:    role,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Text)},
		}
	}
	var blocks []anthropicsdk.ContentBlockParamUnion
	for _, part := range m.Parts {
		switch part.Kind {
		case models.PartText, models.PartReasoning:
			blocks = append(blocks, anthropicsdk.NewTextBlock(part.Text))
		case models.PartToolCall:
			var input any
			_ = json.Unmarshal(part.Input, &input)
			blocks = append(blocks, anthropicsdk.NewToolUseBlock(part.ID, input, part.ToolName))
		case models.PartToolResult:
			blocks = append(blocks, anthropicsdk.NewToolResultBlock(part.ID, string(part.Output), part.IsError))
		}
	}
	return anthropicsdk.MessageParam{Role: role, Content: blocks}
}
