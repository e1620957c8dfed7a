// Package memstore is an in-process sessions.Store, grounded on the
// teacher's map-based MemoryStore (internal/sessions/memory.go), extended
// with spec.md's per-platformKey "current session" pointer semantics.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/agentcore/internal/sessions"
	"github.com/relaykit/agentcore/pkg/models"
)

// Store is a thread-safe, in-memory sessions.Store implementation.
type Store struct {
	mu       sync.Mutex
	byID     map[string]*models.Session
	current  map[string]string // platformKey -> sessionID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*models.Session),
		current: make(map[string]string),
	}
}

func (s *Store) GetOrCreate(ctx context.Context, platformKey string, forceNew bool, memoryKey string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceNew {
		if id, ok := s.current[platformKey]; ok {
			if sess, ok := s.byID[id]; ok {
				return cloneSession(sess), nil
			}
		}
	}

	id := uuid.NewString()
	now := time.Now()
	sess := &models.Session{
		ID:          id,
		PlatformKey: platformKey,
		Context: models.Context{
			RunBag: &models.RunContextBag{PlatformKey: platformKey, SessionID: id, MemoryKey: memoryKey},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[id] = sess
	s.current[platformKey] = id
	return cloneSession(sess), nil
}

func (s *Store) Save(ctx context.Context, sessionID string, c models.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok {
		return fmt.Errorf("memstore: unknown session %q", sessionID)
	}
	sess.Context = c.Clone()
	sess.MessageCount = len(sess.Context.Messages)
	sess.Preview = sessions.DerivePreview(sess.Context.Messages)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CreateNewSession(ctx context.Context, platformKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	now := time.Now()
	s.byID[id] = &models.Session{
		ID:          id,
		PlatformKey: platformKey,
		Context:     models.Context{RunBag: &models.RunContextBag{PlatformKey: platformKey, SessionID: id}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.current[platformKey] = id
	return id, nil
}

func (s *Store) ClearCurrent(ctx context.Context, platformKey string) (sessions.ClearResult, error) {
	s.mu.Lock()
	_, had := s.current[platformKey]
	s.mu.Unlock()

	id, err := s.CreateNewSession(ctx, platformKey)
	if err != nil {
		return sessions.ClearResult{}, err
	}
	return sessions.ClearResult{SessionID: id, CreatedNew: !had}, nil
}

func (s *Store) GetCurrent(ctx context.Context, platformKey string) (models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[platformKey]
	if !ok {
		return models.Session{}, false, nil
	}
	sess, ok := s.byID[id]
	if !ok {
		return models.Session{}, false, nil
	}
	return cloneSession(sess), true, nil
}

func (s *Store) GetCurrentSessionID(ctx context.Context, platformKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[platformKey]
	return id, ok, nil
}

func (s *Store) GetCurrentStatus(ctx context.Context, platformKey string) (sessions.CurrentStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[platformKey]
	if !ok {
		return sessions.CurrentStatus{}, false, nil
	}
	sess, ok := s.byID[id]
	if !ok {
		return sessions.CurrentStatus{}, false, nil
	}
	return sessions.CurrentStatus{
		SessionID:    sess.ID,
		MessageCount: sess.MessageCount,
		UpdatedAt:    sess.UpdatedAt,
	}, true, nil
}

func (s *Store) ListSessions(ctx context.Context, platformKey string, limit int) ([]models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Session
	for _, sess := range s.byID {
		if sess.PlatformKey == platformKey {
			all = append(all, sess)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]models.SessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, models.SessionSummary{
			ID:           sess.ID,
			Preview:      sess.Preview,
			MessageCount: sess.MessageCount,
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	return out, nil
}

// Attach makes sessionID current for platformKey only if that session
// actually belongs to platformKey — per DESIGN.md's resolution of spec.md's
// open question #3, a foreign session is never promoted.
func (s *Store) Attach(ctx context.Context, platformKey, sessionID string) (sessions.AttachResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[sessionID]
	if !ok || sess.PlatformKey != platformKey {
		return sessions.AttachResult{OK: false, Reason: "not found"}, nil
	}
	s.current[platformKey] = sessionID
	return sessions.AttachResult{OK: true}, nil
}

func cloneSession(s *models.Session) models.Session {
	cp := *s
	cp.Context = s.Context.Clone()
	return cp
}
