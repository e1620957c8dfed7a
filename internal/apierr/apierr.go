// Package apierr renders the error taxonomy of spec.md §7 onto the HTTP
// surface. Grounded on the teacher's internal/web.Handler.jsonError /
// jsonResponse (Content-Type header, status code, then
// json.NewEncoder(w).Encode of a flat map), turned into package-level
// helpers since this runtime's HTTP routes are not methods on a shared
// handler struct.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Kind identifies one of the error categories from spec.md §7. Only the
// kinds that can reach the HTTP boundary are represented here; tool
// input/execution failures and compaction failures are handled inside
// the agent loop and never surface as HTTP errors.
type Kind string

const (
	// KindBadRequest covers malformed or unparseable requests.
	KindBadRequest Kind = "bad_request"

	// KindUnauthorized covers missing or invalid request verification
	// (platform signature, internal bearer secret).
	KindUnauthorized Kind = "unauthorized"

	// KindNotFound covers references to a session, stream, or
	// clarification id that does not exist.
	KindNotFound Kind = "not_found"

	// KindBusy covers a recipient with an active-run already in flight.
	KindBusy Kind = "busy"

	// KindTransportFatal covers a non-retryable LLM or network failure
	// that terminated a run.
	KindTransportFatal Kind = "transport_fatal"

	// KindAborted covers a run terminated by cancellation.
	KindAborted Kind = "aborted"

	// KindClarificationTimeout covers a clarification request that
	// timed out with no default answer configured.
	KindClarificationTimeout Kind = "clarification_timeout"

	// KindMaxStepsExceeded covers a run that exhausted its step budget.
	KindMaxStepsExceeded Kind = "max_steps_exceeded"

	// KindMaxErrorsExceeded covers a run that exhausted its error budget.
	KindMaxErrorsExceeded Kind = "max_errors_exceeded"

	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// statusForKind maps each Kind to its HTTP status code.
var statusForKind = map[Kind]int{
	KindBadRequest:           http.StatusBadRequest,
	KindUnauthorized:         http.StatusUnauthorized,
	KindNotFound:             http.StatusNotFound,
	KindBusy:                 http.StatusConflict,
	KindTransportFatal:       http.StatusBadGateway,
	KindAborted:              http.StatusOK,
	KindClarificationTimeout: http.StatusGatewayTimeout,
	KindMaxStepsExceeded:     http.StatusUnprocessableEntity,
	KindMaxErrorsExceeded:    http.StatusUnprocessableEntity,
	KindInternal:             http.StatusInternalServerError,
}

// Error is a structured error value carrying the kind and a
// human-readable message, suitable for returning from a handler.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// StatusCode returns the HTTP status code for e's kind, defaulting to
// 500 for an unrecognized kind.
func (e *Error) StatusCode() int {
	if code, ok := statusForKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// responseBody is the wire shape written to the client.
type responseBody struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind,omitempty"`
}

// Write renders err as a JSON error response with the appropriate
// status code.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	_ = json.NewEncoder(w).Encode(responseBody{Error: err.Message, Kind: err.Kind})
}

// WriteKind is a convenience wrapper around Write for callers that
// don't already hold an *Error value.
func WriteKind(w http.ResponseWriter, kind Kind, message string) {
	Write(w, New(kind, message))
}

// JSON writes data as a 200 JSON response.
func JSON(w http.ResponseWriter, data any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}
