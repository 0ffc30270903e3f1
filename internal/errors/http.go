package errors

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// HTTPError is the payload inside an HTTPErrorResponse.
type HTTPError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON envelope written on every HTTP error
// path, including the router's 404 and 405 handlers.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// RespondWithError writes an HTTPErrorResponse with the given status. The
// request id is read from the request context.
func RespondWithError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	RespondWithErrorDetails(w, r, status, code, msg, nil)
}

// RespondWithErrorDetails writes an HTTPErrorResponse carrying additional
// structured detail, such as per-check health results.
func RespondWithErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]interface{}) {
	resp := HTTPErrorResponse{
		Error: HTTPError{
			Code:      code,
			Message:   msg,
			RequestID: RequestIDFromContext(r.Context()),
			Details:   details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
