// Package models defines the wire- and store-agnostic data types shared by the
// agent loop, session store, and platform adapters.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the kind of a structured Message part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool-call"
	PartToolResult PartKind = "tool-result"
	PartReasoning  PartKind = "reasoning"
)

// Part is one element of a Message's structured content. Exactly the fields
// relevant to Kind are populated; callers should switch on Kind before
// reading Text/ToolName/Input/Output.
type Part struct {
	Kind PartKind `json:"kind"`

	// ID is set for tool-call and tool-result parts. A tool-result part's ID
	// must match a tool-call part's ID that appears earlier in the same
	// Message list.
	ID string `json:"id,omitempty"`

	// Text carries PartText and PartReasoning content.
	Text string `json:"text,omitempty"`

	// ToolName is set for tool-call and tool-result parts.
	ToolName string `json:"tool_name,omitempty"`

	// Input is the structured tool-call argument (PartToolCall only).
	Input json.RawMessage `json:"input,omitempty"`

	// Output is the structured tool-result value (PartToolResult only).
	Output json.RawMessage `json:"output,omitempty"`

	// IsError marks a PartToolResult as a failed execution.
	IsError bool `json:"is_error,omitempty"`
}

// Message is an ordered record in a conversation. Content is either plain
// text (Text non-empty, Parts nil) or an ordered sequence of Parts — never
// both.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// HasParts reports whether m carries structured content rather than plain text.
func (m Message) HasParts() bool { return len(m.Parts) > 0 }

// ToolCallIDs returns the ids of every tool-call part in m, in order.
func (m Message) ToolCallIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// CanonicalString renders a message's content as a single string for
// estimation, preview, or logging purposes. It never panics and never
// touches the network.
func (m Message) CanonicalString() string {
	if !m.HasParts() {
		return m.Text
	}
	b, err := json.Marshal(m.Parts)
	if err != nil {
		return m.Text
	}
	return string(b)
}

// ValidateToolLinkage checks the invariant from spec.md §3: every tool-result
// part's id must reference a tool-call part id that appears earlier in the
// same message, and tool-call ids are unique within a message. Callers that
// need a whole-Context check should run this per message in order and also
// track cross-message tool-call ids (see agent package).
func (m Message) ValidateToolLinkage(seenCallIDs map[string]bool) error {
	for _, p := range m.Parts {
		switch p.Kind {
		case PartToolCall:
			if seenCallIDs[p.ID] {
				return &DuplicateToolCallIDError{ID: p.ID}
			}
			seenCallIDs[p.ID] = true
		case PartToolResult:
			if !seenCallIDs[p.ID] {
				return &DanglingToolResultError{ID: p.ID}
			}
		}
	}
	return nil
}

// DuplicateToolCallIDError reports a tool-call id reused within a Context.
type DuplicateToolCallIDError struct{ ID string }

func (e *DuplicateToolCallIDError) Error() string {
	return "duplicate tool-call id: " + e.ID
}

// DanglingToolResultError reports a tool-result part with no matching earlier tool-call.
type DanglingToolResultError struct{ ID string }

func (e *DanglingToolResultError) Error() string {
	return "tool-result references unknown tool-call id: " + e.ID
}

// RunContextBag is the opaque per-run bag of identity/scope values the agent
// loop threads through tool execution without interpreting.
type RunContextBag struct {
	PlatformKey string
	SessionID   string
	UserText    string
	WorktreeKey string
	MemoryKey   string
}

// Context is the living state of one conversation.
type Context struct {
	Messages []Message      `json:"messages"`
	RunBag   *RunContextBag `json:"-"`
}

// Clone returns a deep-enough copy of c so that callers (notably the
// compactor) can hand back a replacement message list without aliasing the
// session store's slice.
func (c Context) Clone() Context {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Context{Messages: msgs, RunBag: c.RunBag}
}

// Session is a named, resumable Context.
type Session struct {
	ID           string    `json:"id"`
	PlatformKey  string    `json:"platform_key"`
	Context      Context   `json:"context"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
}

// SessionSummary is the list-view projection of a Session (no full Context).
type SessionSummary struct {
	ID           string    `json:"id"`
	Preview      string    `json:"preview,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToolDescriptor is the schema-level description of a registered tool, as
// exposed to the LLM adapter — not the executable itself (see internal/tools.Tool).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompactionTrigger identifies what caused a compaction attempt.
type CompactionTrigger string

const (
	TriggerPreLoop      CompactionTrigger = "pre-loop"
	TriggerLengthRetry  CompactionTrigger = "length-retry"
)

// CompactionStrategy identifies how a compaction was ultimately satisfied.
type CompactionStrategy string

const (
	StrategySummary         CompactionStrategy = "summary"
	StrategySummaryTooLarge CompactionStrategy = "summary-too-large"
	StrategyFallback        CompactionStrategy = "fallback"
)

// CompactionEvent records one compaction attempt, successful or not.
type CompactionEvent struct {
	Attempt             int                `json:"attempt"`
	Trigger             CompactionTrigger  `json:"trigger"`
	Strategy            CompactionStrategy `json:"strategy"`
	Forced              bool               `json:"forced"`
	BeforeMessageCount  int                `json:"before_message_count"`
	AfterMessageCount   int                `json:"after_message_count"`
	BeforeTokens        int                `json:"before_tokens"`
	AfterTokens         int                `json:"after_tokens"`
	Reason              string             `json:"reason,omitempty"`
}
