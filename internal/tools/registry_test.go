package tools

import (
	"context"
	"encoding/json"
	"testing"
)

// spyTool records whether Execute was ever invoked, so a test can assert a
// schema-rejected call never reaches it.
type spyTool struct {
	name    string
	schema  json.RawMessage
	called  bool
	output  json.RawMessage
	execErr error
}

func (t *spyTool) Name() string        { return t.name }
func (t *spyTool) Description() string { return "a tool gated by a required-property schema" }
func (t *spyTool) Schema() json.RawMessage { return t.schema }
func (t *spyTool) Execute(ec ExecutionContext, input json.RawMessage) (json.RawMessage, error) {
	t.called = true
	return t.output, t.execErr
}

const requirePropertySchema = `{
	"type": "object",
	"properties": {"city": {"type": "string"}},
	"required": ["city"]
}`

func TestExecuteRejectsInputMissingRequiredPropertyWithoutCallingTool(t *testing.T) {
	spy := &spyTool{name: "weather", schema: json.RawMessage(requirePropertySchema)}
	r := New()
	if err := r.Register(spy, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ec := ExecutionContext{Context: context.Background()}
	result, err := r.Execute(ec, "weather", json.RawMessage(`{}`), nil, nil)
	if err != nil {
		t.Fatalf("Execute returned an error instead of a Result: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected a schema-violating call to produce an error Result")
	}
	if spy.called {
		t.Fatalf("expected schema validation to short-circuit before Tool.Execute ran")
	}
}

func TestExecuteAllowsInputSatisfyingRequiredProperty(t *testing.T) {
	spy := &spyTool{name: "weather", schema: json.RawMessage(requirePropertySchema), output: json.RawMessage(`"sunny"`)}
	r := New()
	if err := r.Register(spy, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ec := ExecutionContext{Context: context.Background()}
	result, err := r.Execute(ec, "weather", json.RawMessage(`{"city":"nyc"}`), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected a valid call to succeed, got error Result: %s", result.Output)
	}
	if !spy.called {
		t.Fatalf("expected Tool.Execute to run once schema validation passes")
	}
}

func TestExecuteReturnsErrorResultForUnknownTool(t *testing.T) {
	r := New()
	ec := ExecutionContext{Context: context.Background()}
	result, err := r.Execute(ec, "missing", json.RawMessage(`{}`), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected unknown tool name to produce an error Result")
	}
}

func TestExecuteRejectsMalformedJSONInput(t *testing.T) {
	spy := &spyTool{name: "weather", schema: json.RawMessage(requirePropertySchema)}
	r := New()
	if err := r.Register(spy, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ec := ExecutionContext{Context: context.Background()}
	result, err := r.Execute(ec, "weather", json.RawMessage(`not json`), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected malformed JSON input to produce an error Result")
	}
	if spy.called {
		t.Fatalf("expected malformed input to short-circuit before Tool.Execute ran")
	}
}
