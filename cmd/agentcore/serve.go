package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relaykit/agentcore/internal/apierr"
	"github.com/relaykit/agentcore/internal/channels"
	"github.com/relaykit/agentcore/internal/config"
)

// buildServeCmd creates the "serve" command: the HTTP+SSE surface from
// spec.md §6.2, plus any configured platform-webhook adapters.
func buildServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP+SSE agent surface",
		Long: `Start the agentcore HTTP server.

Exposes the chat/stream/clarify/sessions routes from spec.md §6.2, and
registers a webhook route per configured platform adapter (Slack, Discord,
Telegram).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile, cfgFile)
			if err != nil {
				return err
			}
			rt, err := NewRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Shutdown()
			return runServe(cmd.Context(), rt, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

type chatRequest struct {
	UserID   string `json:"userId"`
	Message  string `json:"message"`
	ForceNew bool   `json:"forceNew"`
}

type clarifyRequest struct {
	ClarificationID string `json:"clarificationId"`
	Answer          string `json:"answer"`
}

// webAdapter implements channels.Adapter for the native HTTP+SSE surface:
// ParseIncoming decodes the already-read chatRequest body, and
// CreateStreamHandle wires an sseStream into the stream registry instead
// of talking to an external platform API.
type webAdapter struct {
	streams  *streamRegistry
	req      chatRequest
	streamID string
}

func (a *webAdapter) VerifyRequest(r *http.Request) bool { return true }

func (a *webAdapter) ParseIncoming(r *http.Request) (channels.IncomingMessage, bool, error) {
	return channels.IncomingMessage{
		PlatformKey:     "web:" + a.req.UserID,
		MemoryKey:       a.req.UserID,
		Text:            a.req.Message,
		ForceNewSession: a.req.ForceNew,
		StreamID:        a.streamID,
	}, true, nil
}

func (a *webAdapter) AckRequest(ctx context.Context, w http.ResponseWriter, in channels.IncomingMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "streamId": in.StreamID})
}

func (a *webAdapter) CreateStreamHandle(in channels.IncomingMessage, streamID string) channels.StreamHandle {
	stream := a.streams.create(streamID, in.PlatformKey)
	return &httpStreamHandle{streamID: streamID, stream: stream, registry: a.streams}
}

// runServe builds the HTTP mux and serves it on addr until ctx is done.
func runServe(ctx context.Context, rt *Runtime, addr string) error {
	streams := newStreamRegistry()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apierr.WriteKind(w, apierr.KindBadRequest, "invalid request body")
			return
		}
		if body.Message == "" || body.UserID == "" {
			apierr.WriteKind(w, apierr.KindBadRequest, "userId and message are required")
			return
		}
		adapter := &webAdapter{streams: streams, req: body, streamID: uuid.NewString()}
		rt.Dispatch.Handle(r.Context(), adapter, w, r)
	})

	mux.HandleFunc("GET /api/stream/{streamId}", func(w http.ResponseWriter, r *http.Request) {
		streamID := r.PathValue("streamId")
		stream, ok := streams.get(streamID)
		if !ok {
			apierr.WriteKind(w, apierr.KindNotFound, "unknown streamId")
			return
		}
		if err := writeSSE(w, r, stream); err != nil {
			rt.Logger.Warn(r.Context(), "sse write failed", "error", err, "stream_id", streamID)
		}
	})

	mux.HandleFunc("POST /api/clarify/{streamId}", func(w http.ResponseWriter, r *http.Request) {
		streamID := r.PathValue("streamId")
		platformKey, ok := streams.platformKeyFor(streamID)
		if !ok {
			apierr.WriteKind(w, apierr.KindNotFound, "unknown streamId")
			return
		}
		var body clarifyRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			apierr.WriteKind(w, apierr.KindBadRequest, "invalid request body")
			return
		}
		resolved := rt.Clarify.Resolve(platformKey, body.ClarificationID, body.Answer)
		_ = apierr.JSON(w, map[string]bool{"ok": resolved})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		platformKey := r.URL.Query().Get("platformKey")
		if platformKey == "" {
			apierr.WriteKind(w, apierr.KindBadRequest, "platformKey is required")
			return
		}
		summaries, err := rt.Sessions.ListSessions(r.Context(), platformKey, 50)
		if err != nil {
			apierr.WriteKind(w, apierr.KindInternal, err.Error())
			return
		}
		status, _, _ := rt.Sessions.GetCurrentStatus(r.Context(), platformKey)
		_ = apierr.JSON(w, map[string]any{
			"sessions":          summaries,
			"currentSessionId":  status.SessionID,
		})
	})

	mux.HandleFunc("POST /agent/run", func(w http.ResponseWriter, r *http.Request) {
		if !authorizeInternal(r, rt.Config.InternalAPISecret) {
			apierr.WriteKind(w, apierr.KindUnauthorized, "missing or invalid bearer token")
			return
		}
		handleInternalRun(w, r, rt)
	})

	for _, platform := range []string{"slack", "discord", "telegram"} {
		adapter, ok := rt.Channels.Get(platform)
		if !ok {
			continue
		}
		route := "/webhooks/" + platform
		mux.HandleFunc("POST "+route, func(adapter channels.Adapter) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				rt.Dispatch.Handle(r.Context(), adapter, w, r)
			}
		}(adapter))
	}

	server := &http.Server{Addr: addr, Handler: mux}
	rt.Logger.Info(ctx, "serving", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	metricsServer := startMetricsServer(ctx, rt)
	if metricsServer != nil {
		defer metricsServer.Close()
	}

	select {
	case <-ctx.Done():
		return server.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// startMetricsServer mounts promhttp's handler for the default gatherer on
// rt.Config.MetricsAddr, on its own listener so the /metrics surface stays
// reachable independent of the main addr's auth/routing. Returns nil if no
// address is configured.
func startMetricsServer(ctx context.Context, rt *Runtime) *http.Server {
	if rt.Config.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: rt.Config.MetricsAddr, Handler: mux}
	rt.Logger.Info(ctx, "serving metrics", "addr", rt.Config.MetricsAddr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.Logger.Error(ctx, "metrics server failed", "error", err)
		}
	}()
	return server
}

// internalClaims is deliberately empty beyond the registered claims: the
// loopback route only needs to know the bearer presented a token signed
// with INTERNAL_API_SECRET, not who it identifies.
type internalClaims struct {
	jwt.RegisteredClaims
}

// authorizeInternal validates the Authorization header as an HS256 JWT
// signed with secret, per spec.md §6.2's loopback bearer auth.
func authorizeInternal(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	tokenString := header[len(prefix):]

	token, err := jwt.ParseWithClaims(tokenString, &internalClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil && token.Valid
}

// handleInternalRun implements the loopback-only `POST /agent/run` route:
// a single synchronous run, bypassing the stream/SSE machinery entirely.
func handleInternalRun(w http.ResponseWriter, r *http.Request, rt *Runtime) {
	var body struct {
		PlatformKey     string `json:"platformKey"`
		Text            string `json:"text"`
		Message         string `json:"message"`
		Prompt          string `json:"prompt"`
		Skill           string `json:"skill"`
		ForceNewSession bool   `json:"forceNewSession"`
		AskPolicy       string `json:"askPolicy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.WriteKind(w, apierr.KindBadRequest, "invalid request body")
		return
	}
	text := firstNonEmpty(body.Text, body.Message, body.Prompt)
	if text == "" {
		apierr.WriteKind(w, apierr.KindBadRequest, "one of text, message, or prompt is required")
		return
	}
	platformKey := body.PlatformKey
	if platformKey == "" {
		platformKey = "internal:" + uuid.NewString()
	}

	result, err := rt.RunOnce(r.Context(), platformKey, text, body.ForceNewSession, body.AskPolicy)
	if err != nil {
		apierr.WriteKind(w, apierr.KindInternal, err.Error())
		return
	}
	_ = apierr.JSON(w, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
