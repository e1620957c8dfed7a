package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteSetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(KindNotFound, "session not found"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}

	var body responseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body.Error != "session not found" || body.Kind != KindNotFound {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWriteKindUnknownDefaultsTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKind(rec, Kind("something_unmapped"), "oops")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmapped kind, got %d", rec.Code)
	}
}

func TestJSONWritesData(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := JSON(rec, map[string]string{"ok": "true"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}
