package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/relaykit/agentcore/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return OpenDB(db), mock
}

func TestGetOrCreateReturnsExistingCurrentSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT session_id FROM current_sessions WHERE platform_key = \?`).
		WithArgs("web:42").
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}).AddRow("sess-1"))

	now := time.Now()
	mock.ExpectQuery(`SELECT id, platform_key, messages_json, message_count, preview, created_at, updated_at FROM sessions WHERE id = \?`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "platform_key", "messages_json", "message_count", "preview", "created_at", "updated_at"}).
			AddRow("sess-1", "web:42", "[]", 0, "", now, now))

	sess, err := store.GetOrCreate(context.Background(), "web:42", false, "web:42")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.ID != "sess-1" {
		t.Fatalf("expected existing session to be returned, got %q", sess.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateInsertsNewSessionWhenNoneCurrent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT session_id FROM current_sessions WHERE platform_key = \?`).
		WithArgs("web:99").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectExec(`INSERT INTO sessions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO current_sessions`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sess, err := store.GetOrCreate(context.Background(), "web:99", false, "web:99")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.PlatformKey != "web:99" {
		t.Fatalf("expected new session for web:99, got %+v", sess)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestSaveRoundTripsAcrossProcessRestart opens a real on-disk database,
// saves a message sequence, closes the store (simulating a process exit),
// then reopens a fresh *Store against the same file and asserts GetCurrent
// returns a byte-equal Message sequence.
func TestSaveRoundTripsAcrossProcessRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sess, err := store.GetOrCreate(ctx, "web:1", false, "web:1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	want := []models.Message{
		{Role: models.RoleUser, Text: "hello"},
		{Role: models.RoleAssistant, Text: "hi there"},
		{Role: models.RoleAssistant, Parts: []models.Part{
			{Kind: models.PartToolCall, ID: "1", ToolName: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
		}},
	}
	if err := store.Save(ctx, sess.ID, models.Context{Messages: want}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.GetCurrent(ctx, "web:1")
	if err != nil {
		t.Fatalf("GetCurrent after reopen: %v", err)
	}
	if !ok {
		t.Fatalf("expected current session to persist across reopen")
	}
	if got.ID != sess.ID {
		t.Fatalf("expected session id %q to persist, got %q", sess.ID, got.ID)
	}
	if !reflect.DeepEqual(got.Context.Messages, want) {
		t.Fatalf("expected saved messages to round-trip byte-equal, got %+v, want %+v", got.Context.Messages, want)
	}
}

func TestSaveReturnsErrorForUnknownSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sessions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), "missing", models.Context{})
	if err == nil {
		t.Fatalf("expected an error for a session id with no matching row")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
