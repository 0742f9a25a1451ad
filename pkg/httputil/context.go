package httputil

import (
	"encoding/json"
	"net/http"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
)

// RequestID extracts the request id placed in the context by the
// request-id middleware.
func RequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(RequestIDCtxKey).(string)
	return id, ok && id != ""
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Text writes a plain text response with the given status code and text content.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(text)); err != nil {
		http.Error(w, "Failed to write response", http.StatusInternalServerError)
	}
}

// ErrorResponse is the error envelope every endpoint returns. Stage and
// Kind locate a failure in the request pipeline; both are empty for
// errors raised outside it (bad routes, method mismatches).
type ErrorResponse struct {
	Code    int    `json:"code"`
	Stage   string `json:"stage,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Error sends a JSON error envelope with the given code and message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{Code: statusCode, Message: message})
}

// StageError sends an error envelope tagged with the pipeline stage that
// failed and the kind of failure.
func StageError(w http.ResponseWriter, statusCode int, stage, kind, message string) {
	JSON(w, statusCode, ErrorResponse{
		Code:    statusCode,
		Stage:   stage,
		Kind:    kind,
		Message: message,
	})
}
