// Package telegram adapts go-telegram/bot's webhook mode to the C12
// boundary. Grounded on the teacher's internal/channels/telegram.Config
// (Token/Mode/WebhookURL) and BotClient wrapper interface, narrowed to
// webhook mode since that is the only mode compatible with a per-request
// verify/parse/ack contract.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaykit/agentcore/internal/channels"
)

// Config configures the Telegram webhook adapter.
type Config struct {
	Token       string
	SecretToken string // value Telegram echoes in X-Telegram-Bot-Api-Secret-Token
}

// Adapter implements channels.Adapter for Telegram's webhook delivery.
type Adapter struct {
	bot         *tgbot.Bot
	secretToken string
}

// New constructs an Adapter from cfg.
func New(cfg Config) (*Adapter, error) {
	b, err := tgbot.New(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Adapter{bot: b, secretToken: cfg.SecretToken}, nil
}

// VerifyRequest compares the X-Telegram-Bot-Api-Secret-Token header
// against the configured secret, per Telegram's webhook-verification
// recommendation.
func (a *Adapter) VerifyRequest(r *http.Request) bool {
	if a.secretToken == "" {
		return true
	}
	got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.secretToken)) == 1
}

// ParseIncoming decodes a Telegram Update and extracts its text message,
// if it has one.
func (a *Adapter) ParseIncoming(r *http.Request) (channels.IncomingMessage, bool, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return channels.IncomingMessage{}, false, err
	}
	var update tgmodels.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return channels.IncomingMessage{}, false, err
	}
	if update.Message == nil || update.Message.Text == "" {
		return channels.IncomingMessage{}, false, nil
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	userID := ""
	if update.Message.From != nil {
		userID = strconv.FormatInt(update.Message.From.ID, 10)
	}
	return channels.IncomingMessage{
		PlatformKey: "telegram:" + chatID + ":" + userID,
		Text:        update.Message.Text,
	}, true, nil
}

// AckRequest writes Telegram's required 200 OK.
func (a *Adapter) AckRequest(ctx context.Context, w http.ResponseWriter, in channels.IncomingMessage) {
	w.WriteHeader(http.StatusOK)
}

// CreateStreamHandle returns a sink that sends messages back to the
// originating chat.
func (a *Adapter) CreateStreamHandle(in channels.IncomingMessage, streamID string) channels.StreamHandle {
	return &streamHandle{bot: a.bot, chatID: parseChatID(in.PlatformKey)}
}

type streamHandle struct {
	bot    *tgbot.Bot
	chatID string
	buf    string
}

func (h *streamHandle) OnText(delta string) { h.buf += delta }

func (h *streamHandle) OnToolCall(name string, input json.RawMessage) {}

func (h *streamHandle) OnToolResult(name string, output json.RawMessage, isError bool) {}

func (h *streamHandle) OnClarification(prompt string, defaultAnswer *string) {
	h.bot.SendMessage(context.Background(), &tgbot.SendMessageParams{ChatID: h.chatID, Text: prompt})
}

func (h *streamHandle) OnDone(result channels.Result) {
	text := result.Text
	if text == "" {
		text = h.buf
	}
	if text == "" {
		return
	}
	h.bot.SendMessage(context.Background(), &tgbot.SendMessageParams{ChatID: h.chatID, Text: text})
}

func (h *streamHandle) OnError(err error) {
	h.bot.SendMessage(context.Background(), &tgbot.SendMessageParams{ChatID: h.chatID, Text: "Error: " + err.Error()})
}

func parseChatID(platformKey string) string {
	const prefix = "telegram:"
	for i := len(prefix); i < len(platformKey); i++ {
		if platformKey[i] == ':' {
			return platformKey[len(prefix):i]
		}
	}
	return ""
}
