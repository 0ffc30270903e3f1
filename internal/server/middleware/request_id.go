package middleware

import (
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/gotempus/internal/errors"
)

// RequestIDHeader carries the request correlation ID on requests and
// responses.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the inbound X-Request-ID header, generating a new
// ID when the client did not send one. The ID is stored on the request
// context and echoed on the response so callers can correlate logs and
// error envelopes with their request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := apperrors.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
