package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaykit/agentcore/internal/agent"
	"github.com/relaykit/agentcore/internal/channels"
	"github.com/relaykit/agentcore/internal/channels/discord"
	"github.com/relaykit/agentcore/internal/channels/slack"
	"github.com/relaykit/agentcore/internal/channels/telegram"
	"github.com/relaykit/agentcore/internal/clarify"
	"github.com/relaykit/agentcore/internal/commands"
	"github.com/relaykit/agentcore/internal/compaction"
	"github.com/relaykit/agentcore/internal/config"
	"github.com/relaykit/agentcore/internal/dispatch"
	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/llm"
	"github.com/relaykit/agentcore/internal/llm/anthropic"
	"github.com/relaykit/agentcore/internal/llm/openai"
	"github.com/relaykit/agentcore/internal/observability"
	"github.com/relaykit/agentcore/internal/plugins"
	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions"
	"github.com/relaykit/agentcore/internal/sessions/memstore"
	"github.com/relaykit/agentcore/internal/sessions/sqlstore"
	"github.com/relaykit/agentcore/internal/tools"
	"github.com/relaykit/agentcore/pkg/models"
)

// Runtime holds the full dependency graph built from a loaded Config,
// wiring the four core subsystems (agent loop, compactor, dispatcher,
// plugin manager) and the ambient stack (logging, metrics, tracing)
// behind it. Grounded on the teacher's cmd/nexus gateway.NewManagedServer
// bring-up shape, narrowed to this runtime's flatter dependency graph.
type Runtime struct {
	Config    config.Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Shutdown  func() error
	Sessions  sessions.Store
	Runs      *runs.Registry
	Tools     *tools.Registry
	Hooks     *hooks.Registry
	Compactor *compaction.Compactor
	Loop      *agent.Loop
	Plugins   *plugins.Manager
	Router    *commands.Router
	Clarify   *clarify.Channel
	Dispatch  *dispatch.Dispatcher
	Channels  *channels.Registry
}

// NewRuntime constructs a Runtime from cfg. The caller is responsible for
// invoking the returned Shutdown before exit to flush the tracer.
func NewRuntime(cfg config.Config) (*Runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics()
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "agentcore"})

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: building llm provider: %w", err)
	}

	store, err := buildSessionStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: building session store: %w", err)
	}

	runRegistry := runs.New()
	toolRegistry := tools.New()
	hookRegistry := hooks.New()
	compactor := compaction.New(compaction.Config{
		WindowTokens:          cfg.ContextWindowTokens,
		CompactTrigger:        int(cfg.CompactTrigger() * float64(cfg.ContextWindowTokens)),
		CompactTarget:         int(cfg.CompactTarget() * float64(cfg.ContextWindowTokens)),
		KeepLastTurns:         cfg.KeepLastTurns,
		MaxCompactionAttempts: cfg.MaxCompactionAttempts,
		SummaryMaxTokens:      cfg.CompactSummaryMaxTokens,
	}, provider)

	compactor.Metrics = metrics
	toolRegistry.Metrics = metrics

	bounds := agent.DefaultBounds()
	bounds.MaxCompactionAttempts = cfg.MaxCompactionAttempts
	bounds.MaxErrorCount = cfg.MaxErrorCount
	bounds.MaxSteps = cfg.MaxSteps
	loop := agent.New(provider, toolRegistry, compactor)
	loop.Tracer = tracer
	loop.Metrics = metrics

	pluginManager := plugins.New(toolRegistry, hookRegistry, pluginLoggerAdapter{logger})

	router := commands.New(store, runRegistry)
	clarifyChannel := clarify.New()

	model := cfg.OpenAIModel
	if cfg.AnthropicAPIKey != "" {
		model = cfg.AnthropicModel
	}
	dispatcher := dispatch.New(store, runRegistry, router, loop, hookRegistry, clarifyChannel, dispatch.Defaults{
		Model:  model,
		Bounds: bounds,
	})
	dispatcher.Metrics = metrics
	dispatcher.Tracer = tracer

	channelRegistry := channels.NewRegistry()
	registerChannels(channelRegistry, cfg, logger)

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		Shutdown:  func() error { return shutdown(backgroundCtx()) },
		Sessions:  store,
		Runs:      runRegistry,
		Tools:     toolRegistry,
		Hooks:     hookRegistry,
		Compactor: compactor,
		Loop:      loop,
		Plugins:   pluginManager,
		Router:    router,
		Clarify:   clarifyChannel,
		Dispatch:  dispatcher,
		Channels:  channelRegistry,
	}, nil
}

// buildProvider picks the LLM provider to back the agent loop: Anthropic
// takes priority when both keys are configured, matching the teacher's
// "explicit choice over silent fallback" default-provider selection.
func buildProvider(cfg config.Config) (llm.Provider, error) {
	if cfg.AnthropicAPIKey != "" {
		return anthropic.New(anthropic.Config{
			APIKey:       cfg.AnthropicAPIKey,
			DefaultModel: cfg.AnthropicModel,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		return openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIAPIURL,
			DefaultModel: cfg.OpenAIModel,
		})
	}
	return nil, fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

// buildSessionStore opens the SQLite-backed store when SQLitePath is set,
// otherwise falls back to the in-process memstore (suitable for `run`'s
// single-process REPL mode).
func buildSessionStore(cfg config.Config) (sessions.Store, error) {
	if cfg.SQLitePath == "" || cfg.SQLitePath == ":memory:" {
		return memstore.New(), nil
	}
	return sqlstore.Open(cfg.SQLitePath)
}

// registerChannels wires any channel adapter whose credentials are present
// in cfg. A channel left unconfigured is silently skipped rather than
// failing startup, so a single-platform deployment doesn't need every
// credential set.
func registerChannels(registry *channels.Registry, cfg config.Config, logger *observability.Logger) {
	if cfg.SlackBotToken != "" && cfg.SlackSigningSecret != "" {
		registry.Register("slack", slack.New(slack.Config{
			BotToken:      cfg.SlackBotToken,
			SigningSecret: cfg.SlackSigningSecret,
		}))
	}
	if cfg.DiscordToken != "" {
		if adapter, err := discord.New(discord.Config{Token: cfg.DiscordToken}); err != nil {
			logger.Error(backgroundCtx(), "discord adapter init failed", "error", err)
		} else {
			registry.Register("discord", adapter)
		}
	}
	if cfg.TelegramToken != "" {
		if adapter, err := telegram.New(telegram.Config{
			Token:       cfg.TelegramToken,
			SecretToken: cfg.TelegramSecret,
		}); err != nil {
			logger.Error(backgroundCtx(), "telegram adapter init failed", "error", err)
		} else {
			registry.Register("telegram", adapter)
		}
	}
}

// RunOnceResult is the wire shape of spec.md §6.2's internal `POST
// /agent/run` response.
type RunOnceResult struct {
	OK                 bool                     `json:"ok"`
	RunID              string                   `json:"runId"`
	PlatformKey        string                   `json:"platformKey"`
	SessionID          string                   `json:"sessionId"`
	RequestText        string                   `json:"requestText"`
	Result             string                   `json:"result"`
	ToolCalls          int                      `json:"toolCalls"`
	CompactionCount    int                      `json:"compactionCount"`
	Compactions        []models.CompactionEvent `json:"compactions"`
	ClarificationCount int                      `json:"clarificationCount"`
}

// RunOnce executes a single synchronous loop run for platformKey, bypassing
// the HTTP streaming machinery entirely. askPolicy follows spec.md §6.2:
// "never" answers clarification requests with "" when there's no default;
// "default" (or empty) raises clarify.ErrTimeout unless the request itself
// carries a default answer.
func (rt *Runtime) RunOnce(ctx context.Context, platformKey, text string, forceNew bool, askPolicy string) (RunOnceResult, error) {
	runID := uuid.NewString()
	session, err := rt.Sessions.GetOrCreate(ctx, platformKey, forceNew, platformKey)
	if err != nil {
		return RunOnceResult{}, fmt.Errorf("resolving session: %w", err)
	}
	session.Context.Messages = append(session.Context.Messages, models.Message{
		Role: models.RoleUser,
		Text: text,
	})

	var toolCalls, clarifications int
	var compactions []models.CompactionEvent

	opts := agent.Options{
		Model:  rt.Dispatch.Defaults.Model,
		System: rt.Dispatch.Defaults.System,
		Bounds: rt.Dispatch.Defaults.Bounds,
		Callbacks: agent.Callbacks{
			OnToolCall: func(string, json.RawMessage) { toolCalls++ },
			OnCompacted: func(ev models.CompactionEvent) {
				compactions = append(compactions, ev)
			},
			OnClarificationRequest: func(cctx context.Context, prompt string, def *string) (string, error) {
				clarifications++
				if askPolicy == "never" {
					if def != nil {
						return *def, nil
					}
					return "", nil
				}
				if def != nil {
					return *def, nil
				}
				return "", clarify.ErrTimeout
			},
		},
	}

	result := rt.Loop.Run(ctx, &session.Context, opts)
	if err := rt.Sessions.Save(ctx, session.ID, session.Context); err != nil {
		return RunOnceResult{}, fmt.Errorf("saving session: %w", err)
	}

	return RunOnceResult{
		OK:                 true,
		RunID:              runID,
		PlatformKey:        platformKey,
		SessionID:          session.ID,
		RequestText:        text,
		Result:             result,
		ToolCalls:          toolCalls,
		CompactionCount:    len(compactions),
		Compactions:        compactions,
		ClarificationCount: clarifications,
	}, nil
}

func backgroundCtx() context.Context { return context.Background() }

// pluginLoggerAdapter adapts *observability.Logger to plugins.Logger,
// which has no context.Context parameter.
type pluginLoggerAdapter struct {
	logger *observability.Logger
}

func (a pluginLoggerAdapter) Info(msg string, args ...any) {
	a.logger.Info(backgroundCtx(), msg, args...)
}
func (a pluginLoggerAdapter) Warn(msg string, args ...any) {
	a.logger.Warn(backgroundCtx(), msg, args...)
}
func (a pluginLoggerAdapter) Error(msg string, args ...any) {
	a.logger.Error(backgroundCtx(), msg, args...)
}
