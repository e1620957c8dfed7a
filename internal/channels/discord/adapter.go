// Package discord adapts a bwmarrin/discordgo gateway session to the C12
// boundary. Unlike Slack/Telegram, Discord delivers events over a
// persistent gateway socket rather than inbound HTTP, so VerifyRequest and
// ParseIncoming are driven by an internal buffered channel fed from a
// discordgo.MessageCreate handler instead of from r. Grounded on the
// teacher's internal/channels/discord adapter's session wiring
// (discordgo.New, AddHandler, Open).
package discord

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/relaykit/agentcore/internal/channels"
)

// Config configures the Discord adapter.
type Config struct {
	Token string
}

// Adapter implements channels.Adapter backed by a live discordgo session.
// ParseIncoming drains one message queued by the gateway handler per call;
// callers that serve HTTP should instead read from Inbound() directly and
// skip the channels.Adapter indirection, which exists for parity with the
// webhook-style platforms.
type Adapter struct {
	session *discordgo.Session
	queue   chan channels.IncomingMessage
}

// New opens a discordgo session using cfg.Token and registers a handler
// that queues inbound channel messages for ParseIncoming.
func New(cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	a := &Adapter{session: session, queue: make(chan channels.IncomingMessage, 64)}
	session.AddHandler(a.onMessageCreate)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	if err := session.Open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	select {
	case a.queue <- channels.IncomingMessage{
		PlatformKey: "discord:" + m.ChannelID + ":" + m.Author.ID,
		Text:        m.Content,
	}:
	default:
	}
}

// Inbound exposes the queued-message channel directly for a gateway-driven
// dispatch loop.
func (a *Adapter) Inbound() <-chan channels.IncomingMessage { return a.queue }

// VerifyRequest always reports true: authenticity for a gateway connection
// is established once, at session Open, by the bot token itself.
func (a *Adapter) VerifyRequest(r *http.Request) bool { return true }

// ParseIncoming drains the next gateway-queued message, if any are
// already buffered; it never blocks.
func (a *Adapter) ParseIncoming(r *http.Request) (channels.IncomingMessage, bool, error) {
	select {
	case msg := <-a.queue:
		return msg, true, nil
	default:
		return channels.IncomingMessage{}, false, nil
	}
}

// AckRequest is a no-op: there is no inbound HTTP request to answer.
func (a *Adapter) AckRequest(ctx context.Context, w http.ResponseWriter, in channels.IncomingMessage) {
}

// CreateStreamHandle returns a sink that sends messages back to the
// originating Discord channel.
func (a *Adapter) CreateStreamHandle(in channels.IncomingMessage, streamID string) channels.StreamHandle {
	return &streamHandle{session: a.session, channelID: parseChannelID(in.PlatformKey)}
}

type streamHandle struct {
	session   *discordgo.Session
	channelID string
	buf       string
}

func (h *streamHandle) OnText(delta string) { h.buf += delta }

func (h *streamHandle) OnToolCall(name string, input json.RawMessage) {}

func (h *streamHandle) OnToolResult(name string, output json.RawMessage, isError bool) {}

func (h *streamHandle) OnClarification(prompt string, defaultAnswer *string) {
	h.session.ChannelMessageSend(h.channelID, prompt)
}

func (h *streamHandle) OnDone(result channels.Result) {
	text := result.Text
	if text == "" {
		text = h.buf
	}
	if text == "" {
		return
	}
	h.session.ChannelMessageSend(h.channelID, text)
}

func (h *streamHandle) OnError(err error) {
	h.session.ChannelMessageSend(h.channelID, "Error: "+err.Error())
}

func parseChannelID(platformKey string) string {
	for i := len("discord:"); i < len(platformKey); i++ {
		if platformKey[i] == ':' {
			return platformKey[len("discord:"):i]
		}
	}
	return ""
}
