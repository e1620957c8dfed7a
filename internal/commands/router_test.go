package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions/memstore"
)

func TestRouteNonCommandIsNone(t *testing.T) {
	r := New(memstore.New(), runs.New())
	res := r.Route(context.Background(), "web:1", "hello there")
	if res.Kind != KindNone {
		t.Fatalf("expected KindNone, got %v", res.Kind)
	}
}

func TestRouteUnknownCommandShowsHelp(t *testing.T) {
	r := New(memstore.New(), runs.New())
	res := r.Route(context.Background(), "web:1", "/bogus")
	if res.Kind != KindHandled || !strings.Contains(res.Message, "Available commands") {
		t.Fatalf("expected help message, got %+v", res)
	}
}

func TestRouteNewThenStatus(t *testing.T) {
	store := memstore.New()
	r := New(store, runs.New())
	ctx := context.Background()

	res := r.Route(ctx, "web:1", "/new")
	if res.Kind != KindHandled || !strings.Contains(res.Message, "Started a new session") {
		t.Fatalf("expected new-session message, got %+v", res)
	}

	res = r.Route(ctx, "web:1", "/status")
	if res.Kind != KindHandled || !strings.Contains(res.Message, "No active run") {
		t.Fatalf("expected status message, got %+v", res)
	}
}

func TestRouteBusyPolicyBlocksNonWhitelisted(t *testing.T) {
	store := memstore.New()
	runRegistry := runs.New()
	r := New(store, runRegistry)
	ctx := context.Background()

	_, cancel := context.WithCancel(ctx)
	defer cancel()
	runRegistry.SetActiveRun("web:1", "stream-1", cancel)

	res := r.Route(ctx, "web:1", "/new")
	if res.Kind != KindHandled || !strings.Contains(res.Message, "already active") {
		t.Fatalf("expected busy message, got %+v", res)
	}

	res = r.Route(ctx, "web:1", "/stop")
	if !strings.Contains(res.Message, "Stopped the active run") {
		t.Fatalf("expected /stop to bypass busy gate, got %+v", res)
	}
}

func TestRouteSkillsByIndexAndAmbiguity(t *testing.T) {
	r := New(memstore.New(), runs.New())
	r.Skills = fakeSkills{skills: []Skill{{Name: "deploy-app"}, {Name: "deploy-docs"}, {Name: "lint"}}}

	res := r.Route(context.Background(), "web:1", "/skills 3 fix the typo")
	if res.Kind != KindTransformed || res.NewText != "[use skill](lint) fix the typo" {
		t.Fatalf("expected transformed skill invocation, got %+v", res)
	}

	res = r.Route(context.Background(), "web:1", "/skills deploy do it")
	if res.Kind != KindHandled || !strings.Contains(res.Message, "ambiguous") {
		t.Fatalf("expected ambiguity error, got %+v", res)
	}
}

type fakeSkills struct{ skills []Skill }

func (f fakeSkills) ListSkills() []Skill { return f.skills }
