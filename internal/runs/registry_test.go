package runs

import (
	"context"
	"testing"
)

func TestSetActiveRunAtMostOne(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, ok := r.SetActiveRun("web:1", "stream-1", cancel)
	if !ok {
		t.Fatalf("expected first SetActiveRun to succeed")
	}
	_, ok = r.SetActiveRun("web:1", "stream-2", cancel)
	if ok {
		t.Fatalf("expected second SetActiveRun for the same key to fail")
	}
	if !r.HasActiveRun("web:1") {
		t.Fatalf("expected web:1 to have an active run")
	}
	_ = ctx
}

func TestAbortActiveRunIdempotent(t *testing.T) {
	r := New()
	_, cancel := context.WithCancel(context.Background())
	r.SetActiveRun("web:2", "stream-1", cancel)

	res := r.AbortActiveRun("web:2")
	if !res.Aborted {
		t.Fatalf("expected first abort to report Aborted=true")
	}

	r.ClearActiveRun("web:2")

	res = r.AbortActiveRun("web:2")
	if res.Aborted {
		t.Fatalf("expected second abort after clear to report Aborted=false")
	}
}
