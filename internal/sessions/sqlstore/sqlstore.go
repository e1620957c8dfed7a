// Package sqlstore is a sessions.Store backed by modernc.org/sqlite, a
// pure-Go driver. Grounded on the teacher's internal/sessions/cockroach.go
// (prepared-statement idiom, column layout) retargeted from CockroachDB to
// SQLite so the store needs no cgo toolchain.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relaykit/agentcore/internal/sessions"
	"github.com/relaykit/agentcore/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	platform_key TEXT NOT NULL,
	messages_json TEXT NOT NULL DEFAULT '[]',
	message_count INTEGER NOT NULL DEFAULT 0,
	preview TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_platform_key ON sessions(platform_key);

CREATE TABLE IF NOT EXISTS current_sessions (
	platform_key TEXT PRIMARY KEY,
	session_id TEXT NOT NULL
);
`

// Store is a SQLite-backed sessions.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenDB wraps an already-open *sql.DB (used by tests with go-sqlmock).
func OpenDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) GetOrCreate(ctx context.Context, platformKey string, forceNew bool, memoryKey string) (models.Session, error) {
	if !forceNew {
		if sess, ok, err := s.GetCurrent(ctx, platformKey); err != nil {
			return models.Session{}, err
		} else if ok {
			return sess, nil
		}
	}
	id := uuid.NewString()
	now := time.Now()
	sess := models.Session{ID: id, PlatformKey: platformKey, CreatedAt: now, UpdatedAt: now}
	if err := s.insertSession(ctx, sess); err != nil {
		return models.Session{}, err
	}
	if err := s.setCurrent(ctx, platformKey, id); err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func (s *Store) insertSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, platform_key, messages_json, message_count, preview, created_at, updated_at)
		 VALUES (?, ?, '[]', 0, '', ?, ?)`,
		sess.ID, sess.PlatformKey, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore: insert session: %w", err)
	}
	return nil
}

func (s *Store) setCurrent(ctx context.Context, platformKey, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO current_sessions (platform_key, session_id) VALUES (?, ?)
		 ON CONFLICT(platform_key) DO UPDATE SET session_id = excluded.session_id`,
		platformKey, sessionID)
	if err != nil {
		return fmt.Errorf("sqlstore: set current: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, sessionID string, c models.Context) error {
	b, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal messages: %w", err)
	}
	preview := sessions.DerivePreview(c.Messages)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET messages_json = ?, message_count = ?, preview = ?, updated_at = ? WHERE id = ?`,
		string(b), len(c.Messages), preview, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlstore: save: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sqlstore: unknown session %q", sessionID)
	}
	return nil
}

func (s *Store) CreateNewSession(ctx context.Context, platformKey string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	if err := s.insertSession(ctx, models.Session{ID: id, PlatformKey: platformKey, CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", err
	}
	if err := s.setCurrent(ctx, platformKey, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) ClearCurrent(ctx context.Context, platformKey string) (sessions.ClearResult, error) {
	_, had, err := s.GetCurrentSessionID(ctx, platformKey)
	if err != nil {
		return sessions.ClearResult{}, err
	}
	id, err := s.CreateNewSession(ctx, platformKey)
	if err != nil {
		return sessions.ClearResult{}, err
	}
	return sessions.ClearResult{SessionID: id, CreatedNew: !had}, nil
}

func (s *Store) GetCurrent(ctx context.Context, platformKey string) (models.Session, bool, error) {
	id, ok, err := s.GetCurrentSessionID(ctx, platformKey)
	if err != nil || !ok {
		return models.Session{}, false, err
	}
	return s.getByID(ctx, id)
}

func (s *Store) getByID(ctx context.Context, id string) (models.Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform_key, messages_json, message_count, preview, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var sess models.Session
	var messagesJSON string
	if err := row.Scan(&sess.ID, &sess.PlatformKey, &messagesJSON, &sess.MessageCount, &sess.Preview, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, fmt.Errorf("sqlstore: get session: %w", err)
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(messagesJSON), &msgs); err != nil {
		return models.Session{}, false, fmt.Errorf("sqlstore: unmarshal messages: %w", err)
	}
	sess.Context = models.Context{Messages: msgs, RunBag: &models.RunContextBag{PlatformKey: sess.PlatformKey, SessionID: sess.ID}}
	return sess, true, nil
}

func (s *Store) GetCurrentSessionID(ctx context.Context, platformKey string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT session_id FROM current_sessions WHERE platform_key = ?`, platformKey)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sqlstore: get current id: %w", err)
	}
	return id, true, nil
}

func (s *Store) GetCurrentStatus(ctx context.Context, platformKey string) (sessions.CurrentStatus, bool, error) {
	sess, ok, err := s.GetCurrent(ctx, platformKey)
	if err != nil || !ok {
		return sessions.CurrentStatus{}, ok, err
	}
	return sessions.CurrentStatus{SessionID: sess.ID, MessageCount: sess.MessageCount, UpdatedAt: sess.UpdatedAt}, true, nil
}

func (s *Store) ListSessions(ctx context.Context, platformKey string, limit int) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, preview, message_count, updated_at FROM sessions WHERE platform_key = ? ORDER BY updated_at DESC LIMIT ?`,
		platformKey, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Preview, &sum.MessageCount, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan session summary: %w", err)
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, rows.Err()
}

func (s *Store) Attach(ctx context.Context, platformKey, sessionID string) (sessions.AttachResult, error) {
	sess, ok, err := s.getByID(ctx, sessionID)
	if err != nil {
		return sessions.AttachResult{}, err
	}
	if !ok || sess.PlatformKey != platformKey {
		return sessions.AttachResult{OK: false, Reason: "not found"}, nil
	}
	if err := s.setCurrent(ctx, platformKey, sessionID); err != nil {
		return sessions.AttachResult{}, err
	}
	return sessions.AttachResult{OK: true}, nil
}
