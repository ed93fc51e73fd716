package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/civicportal/internal/model"
)

func TestWriteErrorResponse_IncludesFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
		"password": "password must be at least 6 characters",
	}))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeValidationFailed || body.Category != model.CategoryValidation {
		t.Errorf("body = %+v", body)
	}
	if body.Fields["password"] == "" {
		t.Error("expected field message for password")
	}
}

func TestWriteErrorResponse_OmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())

	var raw map[string]any
	json.NewDecoder(w.Body).Decode(&raw)
	if _, ok := raw["fields"]; ok {
		t.Error("fields should be omitted when empty")
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", model.NewValidationError(nil), http.StatusBadRequest},
		{"invalid pin", model.NewInvalidPinError("x"), http.StatusBadRequest},
		{"auth failed", model.NewAuthFailedError(""), http.StatusUnauthorized},
		{"session required", model.NewSessionRequiredError(), http.StatusUnauthorized},
		{"pin unavailable", model.NewPinUnavailableError(), http.StatusForbidden},
		{"api rejected", model.NewAPIRejectedError(""), http.StatusUnprocessableEntity},
		{"api unavailable", model.NewAPIUnavailableError(errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestWriteInternalServerError_DoesNotLeakDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("pq: password authentication failed"))

	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != "INTERNAL_ERROR" || body.Category != model.CategorySystem {
		t.Errorf("body = %+v", body)
	}
}

func TestRecoveryMiddleware_ReturnsJSON500(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != "INTERNAL_ERROR" {
		t.Errorf("body = %+v err = %v", body, err)
	}
	entry := decodeLogEntry(t, &logs)
	if entry["msg"] != "panic recovered" || entry["path"] != "/issues" || entry["response_started"] != false {
		t.Errorf("log entry = %v", entry)
	}
}

func TestRecoveryMiddleware_ResponseAlreadyStarted(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"loading":true}`))
		panic("after write")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want the already-sent 202", w.Code)
	}
	if got := w.Body.String(); got != `{"loading":true}` {
		t.Errorf("body = %q, want no error body appended", got)
	}
	if entry := decodeLogEntry(t, &logs); entry["response_started"] != true {
		t.Errorf("response_started = %v, want true", entry["response_started"])
	}
}
