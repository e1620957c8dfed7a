package plugins

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaykit/agentcore/internal/hooks"
	"github.com/relaykit/agentcore/internal/tools"
)

type fakeTool struct{ name string }

func (f fakeTool) Name() string              { return f.name }
func (f fakeTool) Description() string       { return "fake" }
func (f fakeTool) Schema() json.RawMessage   { return nil }
func (f fakeTool) Execute(tools.ExecutionContext, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func TestBringupOrdersByDependency(t *testing.T) {
	m := New(tools.New(), hooks.New(), nil)
	var order []string

	ps := []Plugin{
		{
			Name:         "b",
			Dependencies: []string{"a"},
			Initialize: func(ctx context.Context, api *API) error {
				order = append(order, "b")
				return nil
			},
		},
		{
			Name: "a",
			Initialize: func(ctx context.Context, api *API) error {
				order = append(order, "a")
				return api.RegisterTool(fakeTool{name: "t1"})
			},
		},
	}

	if err := m.Bringup(context.Background(), ps, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
	if _, ok := m.tools.Get("t1"); !ok {
		t.Fatalf("expected tool t1 to be registered")
	}
}

func TestBringupDetectsCycle(t *testing.T) {
	m := New(tools.New(), hooks.New(), nil)
	ps := []Plugin{
		{Name: "x", Dependencies: []string{"y"}},
		{Name: "y", Dependencies: []string{"x"}},
	}
	err := m.Bringup(context.Background(), ps, nil)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cycleErr *CycleError
	if !asCycleError(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func asCycleError(err error, target **CycleError) bool {
	if ce, ok := err.(*CycleError); ok {
		*target = ce
		return true
	}
	return false
}

func TestBringupMissingDependency(t *testing.T) {
	m := New(tools.New(), hooks.New(), nil)
	ps := []Plugin{{Name: "x", Dependencies: []string{"absent"}}}
	err := m.Bringup(context.Background(), ps, nil)
	if _, ok := err.(*MissingDependencyError); !ok {
		t.Fatalf("expected *MissingDependencyError, got %T: %v", err, err)
	}
}
