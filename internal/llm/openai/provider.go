// Package openai adapts the Chat Completions streaming API to the
// internal/llm.Provider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/pkg/models"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// Provider implements llm.Provider over OpenAI's Chat Completions API.
type Provider struct {
	client       *openaisdk.Client
	defaultModel string
	maxTokens    int
}

// New constructs a Provider. Returns an error if APIKey is empty.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: APIKey is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openaisdk.GPT4o
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	clientCfg := openaisdk.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{
		client:       openaisdk.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (p *Provider) Name() string        { return "openai" }
func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Models() []llm.ModelInfo {
	return []llm.ModelInfo{
		{ID: openaisdk.GPT4o, Name: "GPT-4o", ContextTokens: 128000, SupportsVision: true},
		{ID: openaisdk.GPT4oMini, Name: "GPT-4o mini", ContextTokens: 128000, SupportsVision: true},
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

func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.Chunk, *llm.ResultFuture, error) {
	params := p.buildRequest(req)

	stream, err := p.client.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, nil, fmt.Errorf("openai: %w", err)
	}

	future := llm.NewResultFuture()
	chunks := make(chan llm.Chunk, 16)

	go func() {
		defer close(chunks)
		defer stream.Close()

		var (
			textBuf      string
			responseMsgs []models.Message
			finish       = llm.FinishStop
			steps        int
			curToolID    string
			curToolName  string
			curToolInput string
			haveToolCall bool
			streamErr    error
		)

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				streamErr = fmt.Errorf("openai: %w", err)
				break
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				textBuf += delta.Content
				chunks <- llm.Chunk{TextDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				haveToolCall = true
				if tc.ID != "" {
					curToolID = tc.ID
				}
				if tc.Function.Name != "" {
					curToolName = tc.Function.Name
				}
				curToolInput += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				steps++
				finish = mapFinishReason(choice.FinishReason)
				if haveToolCall {
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
				}
				chunks <- llm.Chunk{StepFinish: true, Step: steps}
			}
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
			Err:          streamErr,
		})
	}()

	return chunks, future, nil
}

func mapFinishReason(reason openaisdk.FinishReason) llm.FinishReason {
	switch reason {
	case openaisdk.FinishReasonStop:
		return llm.FinishStop
	case openaisdk.FinishReasonToolCalls, openaisdk.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	case openaisdk.FinishReasonLength:
		return llm.FinishLength
	case openaisdk.FinishReasonContentFilter:
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}

func (p *Provider) buildRequest(req *llm.CompletionRequest) openaisdk.ChatCompletionRequest {
	messages := make([]openaisdk.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaisdk.ChatCompletionMessage{
			Role:    openaisdk.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	var tools []openaisdk.Tool
	for _, t := range req.Tools {
		tools = append(tools, openaisdk.Tool{
			Type: openaisdk.ToolTypeFunction,
			Function: &openaisdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		})
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return openaisdk.ChatCompletionRequest{
		Model:     p.model(req),
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
		Stream:    true,
	}
}

func toOpenAIMessage(m models.Message) openaisdk.ChatCompletionMessage {
	role := openaisdk.ChatMessageRoleUser
	switch m.Role {
	case models.RoleAssistant:
		role = openaisdk.ChatMessageRoleAssistant
	case models.RoleTool:
		role = openaisdk.ChatMessageRoleTool
	case models.RoleSystem:
		role = openaisdk.ChatMessageRoleSystem
	}
	if !m.HasParts() {
		return openaisdk.ChatCompletionMessage{Role: role, Content: m.Text}
	}

	msg := openaisdk.ChatCompletionMessage{Role: role}
	for _, part := range m.Parts {
		switch part.Kind {
		case models.PartText, models.PartReasoning:
			msg.Content += part.Text
		case models.PartToolCall:
			msg.ToolCalls = append(msg.ToolCalls, openaisdk.ToolCall{
				ID:   part.ID,
				Type: openaisdk.ToolTypeFunction,
				Function: openaisdk.FunctionCall{
					Name:      part.ToolName,
					Arguments: string(part.Input),
				},
			})
		case models.PartToolResult:
			msg.Role = openaisdk.ChatMessageRoleTool
			msg.ToolCallID = part.ID
			msg.Content = string(part.Output)
		}
	}
	return msg
}
