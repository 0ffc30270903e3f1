// Package middleware provides the HTTP middleware chain for the ops
// server: request ID propagation, panic recovery, and JSON error
// envelope rendering.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/internal/observability"
)

// ErrorResponse is the JSON error envelope written for failures that
// escape a handler.
type ErrorResponse struct {
	Error struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		RequestID string                 `json:"request_id,omitempty"`
		Details   map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// Recovery converts downstream panics into a 500 response with a
// structured error envelope. The panic value and stack are logged; the
// response carries the request ID when one is present on the context.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := apperrors.RequestIDFromContext(r.Context())
				observability.CLILogger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("request_id", requestID),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
				if requestID != "" {
					envelope = envelope.WithCorrelationID(requestID)
				}
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is the outermost error capture for the middleware chain.
// Panics are the only failures that currently escape handlers, so it
// shares the recovery implementation.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse renders a gofulmen error envelope as the wire-level
// ErrorResponse JSON.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	var resp ErrorResponse
	resp.Error.Code = envelope.Code
	resp.Error.Message = envelope.Message
	resp.Error.RequestID = envelope.CorrelationID
	resp.Error.Details = envelope.Context

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
