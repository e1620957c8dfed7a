// Package slack adapts Slack's Events API webhook to the C12 boundary,
// grounded on the teacher's internal/channels/slack client wiring
// (api.Client built from a bot token) and on slack-go/slack's own
// slackevents subpackage for signing-secret verification, narrowed to
// SPEC_FULL.md §4.12's four-method request/response contract.
package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/relaykit/agentcore/internal/channels"
)

// Config configures the Slack adapter.
type Config struct {
	BotToken      string
	SigningSecret string
}

// Adapter implements channels.Adapter for Slack's Events API.
type Adapter struct {
	client        *slack.Client
	signingSecret string
}

// New constructs an Adapter from cfg.
func New(cfg Config) *Adapter {
	return &Adapter{client: slack.New(cfg.BotToken), signingSecret: cfg.SigningSecret}
}

// VerifyRequest checks the request's HMAC signature against the app's
// signing secret, per Slack's request-verification scheme.
func (a *Adapter) VerifyRequest(r *http.Request) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(newReusableReader(body))

	verifier, err := slackevents.NewSecretsVerifier(r.Header, a.signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(body); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

// ParseIncoming decodes a Slack event callback into an IncomingMessage.
// URL verification challenges and non-message events return ok=false so
// the dispatcher stops without starting a run.
func (a *Adapter) ParseIncoming(r *http.Request) (channels.IncomingMessage, bool, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return channels.IncomingMessage{}, false, err
	}

	event, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		return channels.IncomingMessage{}, false, err
	}
	if event.Type != slackevents.CallbackEvent {
		return channels.IncomingMessage{}, false, nil
	}

	inner, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || inner.BotID != "" {
		return channels.IncomingMessage{}, false, nil
	}

	return channels.IncomingMessage{
		PlatformKey: "slack:" + inner.Channel + ":" + inner.User,
		Text:        inner.Text,
	}, true, nil
}

// AckRequest writes Slack's required 200 OK within its response window.
func (a *Adapter) AckRequest(ctx context.Context, w http.ResponseWriter, in channels.IncomingMessage) {
	w.WriteHeader(http.StatusOK)
}

// CreateStreamHandle returns a sink that posts chat messages back to the
// originating channel as the run progresses.
func (a *Adapter) CreateStreamHandle(in channels.IncomingMessage, streamID string) channels.StreamHandle {
	return &streamHandle{client: a.client, channelID: parseChannelID(in.PlatformKey)}
}

type streamHandle struct {
	client    *slack.Client
	channelID string
	buf       string
}

func (h *streamHandle) OnText(delta string) { h.buf += delta }

func (h *streamHandle) OnToolCall(name string, input json.RawMessage) {}

func (h *streamHandle) OnToolResult(name string, output json.RawMessage, isError bool) {}

func (h *streamHandle) OnClarification(prompt string, defaultAnswer *string) {
	h.client.PostMessage(h.channelID, slack.MsgOptionText(prompt, false))
}

func (h *streamHandle) OnDone(result channels.Result) {
	text := result.Text
	if text == "" {
		text = h.buf
	}
	if text == "" {
		return
	}
	h.client.PostMessage(h.channelID, slack.MsgOptionText(text, false))
}

func (h *streamHandle) OnError(err error) {
	h.client.PostMessage(h.channelID, slack.MsgOptionText("Error: "+err.Error(), false))
}
