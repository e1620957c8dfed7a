package memstore

import (
	"context"
	"testing"

	"github.com/relaykit/agentcore/pkg/models"
)

func TestGetOrCreateThenSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess, err := s.GetOrCreate(ctx, "telegram:42", false, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	c := models.Context{Messages: []models.Message{
		{Role: models.RoleUser, Text: "hello there, this is a long first message for preview testing purposes"},
		{Role: models.RoleAssistant, Text: "hi!"},
	}}
	if err := s.Save(ctx, sess.ID, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.GetCurrent(ctx, "telegram:42")
	if err != nil || !ok {
		t.Fatalf("GetCurrent: ok=%v err=%v", ok, err)
	}
	if len(got.Context.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(got.Context.Messages))
	}
	if len(got.Preview) > 80 {
		t.Fatalf("preview too long: %d runes", len([]rune(got.Preview)))
	}
}

func TestAttachRejectsForeignSession(t *testing.T) {
	ctx := context.Background()
	s := New()

	owner, _ := s.GetOrCreate(ctx, "telegram:owner", false, "")
	res, err := s.Attach(ctx, "telegram:other", owner.ID)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if res.OK {
		t.Fatalf("expected Attach to reject a session belonging to a different platformKey")
	}

	id, ok, err := s.GetCurrentSessionID(ctx, "telegram:other")
	if err != nil {
		t.Fatalf("GetCurrentSessionID: %v", err)
	}
	if ok && id == owner.ID {
		t.Fatalf("foreign session was promoted to current")
	}
}

func TestClearCurrentReportsExistingSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateNewSession(ctx, "web:1")
	if err != nil {
		t.Fatalf("CreateNewSession: %v", err)
	}
	res, err := s.ClearCurrent(ctx, "web:1")
	if err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	if res.CreatedNew {
		t.Fatalf("expected CreatedNew=false since a current session already existed")
	}
}
