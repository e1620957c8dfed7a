package tokens

import (
	"testing"

	"github.com/relaykit/agentcore/pkg/models"
)

func TestEstimateEmpty(t *testing.T) {
	if got := Estimate(nil); got != 0 {
		t.Fatalf("Estimate(nil) = %d, want 0", got)
	}
}

func TestEstimateRoundsUp(t *testing.T) {
	msgs := []models.Message{{Role: models.RoleUser, Text: "hi"}}
	// len("user") + len("hi") = 6, ceil(6/4) = 2
	if got := Estimate(msgs); got != 2 {
		t.Fatalf("Estimate = %d, want 2", got)
	}
}

func TestEstimateStructuredContent(t *testing.T) {
	plain := []models.Message{{Role: models.RoleAssistant, Text: "short"}}
	structured := []models.Message{{
		Role: models.RoleAssistant,
		Parts: []models.Part{
			{Kind: models.PartToolCall, ID: "1", ToolName: "search", Input: []byte(`{"q":"weather in san francisco"}`)},
		},
	}}
	if Estimate(structured) <= Estimate(plain) {
		t.Fatalf("expected structured content to estimate larger than short plain text")
	}
}
