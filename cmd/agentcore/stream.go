package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/relaykit/agentcore/internal/channels"
)

// sseEvent is one Server-Sent-Events frame: an event name plus a JSON data
// payload, per spec.md §6.2's text/tool_call/clarification/done/error names.
type sseEvent struct {
	name string
	data any
}

// sseStream fans events for one streamId out to whichever HTTP client is
// currently subscribed (if any), buffering events produced before a client
// connects so a slow GET /api/stream/{streamId} still sees the full
// sequence, per spec.md §6.2 ("Buffered events produced before the client
// connects are flushed on connect").
type sseStream struct {
	mu     sync.Mutex
	buf    []sseEvent
	subs   []chan sseEvent
	closed bool
}

func newSSEStream() *sseStream {
	return &sseStream{}
}

func (s *sseStream) publish(ev sseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, ev)
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// subscribe returns the buffered events so far plus a channel for events
// published from here on. unsubscribe must be called when the caller stops
// reading.
func (s *sseStream) subscribe() ([]sseEvent, chan sseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buffered := append([]sseEvent(nil), s.buf...)
	ch := make(chan sseEvent, 32)
	s.subs = append(s.subs, ch)
	return buffered, ch
}

func (s *sseStream) unsubscribe(ch chan sseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
}

func (s *sseStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
}

// streamRegistry maps a streamId to its sseStream and platformKey, letting
// /api/clarify/{streamId} resolve against the right clarify.Channel entry
// and /api/stream/{streamId} attach a reader.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*sseStream
	owners  map[string]string // streamId -> platformKey
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*sseStream), owners: make(map[string]string)}
}

func (r *streamRegistry) create(streamID, platformKey string) *sseStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := newSSEStream()
	r.streams[streamID] = s
	r.owners[streamID] = platformKey
	return s
}

func (r *streamRegistry) get(streamID string) (*sseStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[streamID]
	return s, ok
}

func (r *streamRegistry) platformKeyFor(streamID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pk, ok := r.owners[streamID]
	return pk, ok
}

// remove drops the stream's bookkeeping; called shortly after done/error
// fires, per spec.md §6.2 ("slot is freed shortly thereafter").
func (r *streamRegistry) remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, streamID)
	delete(r.owners, streamID)
}

// httpStreamHandle implements channels.StreamHandle by publishing onto an
// sseStream, matching the event names spec.md §6.2 names explicitly.
type httpStreamHandle struct {
	streamID string
	stream   *sseStream
	registry *streamRegistry
}

func (h *httpStreamHandle) OnText(delta string) {
	h.stream.publish(sseEvent{name: "text", data: map[string]string{"delta": delta}})
}

func (h *httpStreamHandle) OnToolCall(name string, input json.RawMessage) {
	h.stream.publish(sseEvent{name: "tool_call", data: map[string]any{"name": name, "input": input}})
}

func (h *httpStreamHandle) OnToolResult(name string, output json.RawMessage, isError bool) {
	h.stream.publish(sseEvent{name: "tool_call", data: map[string]any{"name": name, "output": output, "isError": isError}})
}

func (h *httpStreamHandle) OnClarification(prompt string, defaultAnswer *string) {
	h.stream.publish(sseEvent{name: "clarification", data: map[string]any{"prompt": prompt, "default": defaultAnswer}})
}

func (h *httpStreamHandle) OnDone(result channels.Result) {
	h.stream.publish(sseEvent{name: "done", data: map[string]string{"text": result.Text}})
	h.stream.close()
	h.registry.remove(h.streamID)
}

func (h *httpStreamHandle) OnError(err error) {
	h.stream.publish(sseEvent{name: "error", data: map[string]string{"message": err.Error()}})
	h.stream.close()
	h.registry.remove(h.streamID)
}

// writeSSE streams buffered-then-live events for streamID to w until the
// stream closes or the request context is cancelled.
func writeSSE(w http.ResponseWriter, r *http.Request, s *sseStream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	buffered, ch := s.subscribe()
	defer s.unsubscribe(ch)

	write := func(ev sseEvent) error {
		payload, err := json.Marshal(ev.data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	for _, ev := range buffered {
		if err := write(ev); err != nil {
			return err
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := write(ev); err != nil {
				return err
			}
		case <-r.Context().Done():
			return nil
		}
	}
}
