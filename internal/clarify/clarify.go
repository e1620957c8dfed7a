// Package clarify implements the clarification channel (C13): a rendezvous
// between a running tool's request for user input and the reply delivered
// later through a separate command endpoint. Grounded on the
// register-a-waiter/resolve-from-elsewhere/time-out-with-default shape used
// throughout the teacher's internal/agent/loop.go for async tool
// completion, here narrowed to clarification answers.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned by Request when a request times out with no default
// answer configured.
var ErrTimeout = errors.New("clarify: request timed out with no default answer")

// Request is one outstanding clarification: a prompt shown to the user,
// with an optional default answer and timeout.
type Request struct {
	ID            string
	RunID         string
	Prompt        string
	DefaultAnswer *string
	Timeout       time.Duration
}

type waiter struct {
	requestID string
	reply     chan string
}

// Channel holds at-most-one outstanding clarification per run id, per
// spec.md §4.13.
type Channel struct {
	mu      sync.Mutex
	waiting map[string]*waiter // runID -> waiter
}

// New returns an empty Channel.
func New() *Channel {
	return &Channel{waiting: make(map[string]*waiter)}
}

// Request registers a new clarification for runID and blocks (observing ctx
// and req.Timeout) until Resolve is called with a matching request id, the
// timeout elapses, or ctx is cancelled. onAsk is invoked synchronously with
// the constructed Request before blocking — the dispatcher uses it to route
// the prompt to the platform's stream sink.
func (c *Channel) Request(ctx context.Context, runID, prompt string, defaultAnswer *string, timeout time.Duration, onAsk func(Request)) (string, error) {
	c.mu.Lock()
	if _, exists := c.waiting[runID]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("clarify: run %q already has an outstanding clarification", runID)
	}
	req := Request{ID: uuid.NewString(), RunID: runID, Prompt: prompt, DefaultAnswer: defaultAnswer, Timeout: timeout}
	w := &waiter{requestID: req.ID, reply: make(chan string, 1)}
	c.waiting[runID] = w
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiting, runID)
		c.mu.Unlock()
	}()

	if onAsk != nil {
		onAsk(req)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case answer := <-w.reply:
		return answer, nil
	case <-timeoutCh:
		if defaultAnswer != nil {
			return *defaultAnswer, nil
		}
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers answer to the outstanding clarification for runID,
// provided clarificationID matches the id of the request currently
// outstanding for that run. Returns false if no clarification is
// outstanding, or the id doesn't match (e.g. it already timed out and a new
// one started).
func (c *Channel) Resolve(runID, clarificationID, answer string) bool {
	c.mu.Lock()
	w, ok := c.waiting[runID]
	c.mu.Unlock()
	if !ok || w.requestID != clarificationID {
		return false
	}
	select {
	case w.reply <- answer:
		return true
	default:
		return false
	}
}
