// Package channels defines the platform adapter boundary (C12): the
// interface a webhook-style or socket-style integration implements to
// hand requests to the dispatcher, and the event sink the dispatcher
// streams back through. Grounded on the teacher's internal/channels
// package shape (a Registry keyed by channel type, one subpackage per
// platform), narrowed from the teacher's persistent-connection
// FullAdapter down to SPEC_FULL.md §4.12's four-method request/response
// contract.
package channels

import (
	"context"
	"encoding/json"
	"net/http"
)

// IncomingMessage is what Adapter.ParseIncoming extracts from a raw
// platform request.
type IncomingMessage struct {
	PlatformKey     string
	MemoryKey       string
	Text            string
	ForceNewSession bool
	StreamID        string // pre-allocated by the platform, if any
}

// Result is the loop's terminal outcome, passed to StreamHandle.OnDone.
type Result struct {
	Text string
}

// StreamHandle is the sink a dispatcher streams one run's events through.
// Every implementation provides OnToolResult; one whose platform does not
// surface intermediate tool output implements it as a no-op.
type StreamHandle interface {
	OnText(delta string)
	OnToolCall(name string, input json.RawMessage)
	OnToolResult(name string, output json.RawMessage, isError bool)
	OnClarification(prompt string, defaultAnswer *string)
	OnDone(result Result)
	OnError(err error)
}

// Adapter is the platform boundary: verify the request is authentic,
// parse it into an IncomingMessage (or signal "no message to process" by
// returning ok=false with a nil error, e.g. a heartbeat or a clarification
// reply already consumed), ack it synchronously, and hand back a
// StreamHandle for the dispatcher to stream through.
type Adapter interface {
	VerifyRequest(r *http.Request) bool
	ParseIncoming(r *http.Request) (IncomingMessage, bool, error)
	AckRequest(ctx context.Context, w http.ResponseWriter, in IncomingMessage)
	CreateStreamHandle(in IncomingMessage, streamID string) StreamHandle
}

// Registry maps a platform name to its Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for platform.
func (r *Registry) Register(platform string, a Adapter) {
	r.adapters[platform] = a
}

// Get returns the adapter registered for platform.
func (r *Registry) Get(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}
