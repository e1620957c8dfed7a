// Package sessions defines the session store contract (C7). Concrete
// backends live in memstore (in-process) and sqlstore (modernc.org/sqlite).
package sessions

import (
	"context"
	"time"

	"github.com/relaykit/agentcore/pkg/models"
)

// AttachResult is returned by Attach.
type AttachResult struct {
	OK     bool
	Reason string
}

// ClearResult is returned by ClearCurrent.
type ClearResult struct {
	SessionID string
	CreatedNew bool
}

// CurrentStatus is the lightweight projection returned by GetCurrentStatus.
type CurrentStatus struct {
	SessionID    string
	MessageCount int
	UpdatedAt    time.Time
}

// Store is the per-platformKey session store contract from spec.md §4.7.
// All operations are atomic per platformKey.
type Store interface {
	// GetOrCreate returns the current session for platformKey, creating one
	// if none exists or forceNew is true. memoryKey is opaque to the store:
	// memstore keeps it in a newly created session's run-context bag, and
	// sqlstore does not persist it.
	GetOrCreate(ctx context.Context, platformKey string, forceNew bool, memoryKey string) (models.Session, error)

	Save(ctx context.Context, sessionID string, c models.Context) error

	CreateNewSession(ctx context.Context, platformKey string) (string, error)

	ClearCurrent(ctx context.Context, platformKey string) (ClearResult, error)

	GetCurrent(ctx context.Context, platformKey string) (models.Session, bool, error)

	GetCurrentSessionID(ctx context.Context, platformKey string) (string, bool, error)

	GetCurrentStatus(ctx context.Context, platformKey string) (CurrentStatus, bool, error)

	// ListSessions returns up to limit sessions for platformKey, newest first.
	ListSessions(ctx context.Context, platformKey string, limit int) ([]models.SessionSummary, error)

	// Attach makes sessionID the current session for platformKey. It must
	// never promote a session belonging to a different platformKey (see
	// DESIGN.md open question #3).
	Attach(ctx context.Context, platformKey, sessionID string) (AttachResult, error)
}

// DerivePreview truncates the canonical string of the first user message to
// at most 80 characters, appending an ellipsis if truncated.
func DerivePreview(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		s := m.CanonicalString()
		return truncate(s, 80)
	}
	return ""
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
