package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/pkg/runstore"
)

// httpErrorResponder renders an error onto an HTTP response. The default
// classifies the error and writes the matching envelope; tests and
// embedders can substitute their own.
var httpErrorResponder = defaultHTTPErrorResponder

func defaultHTTPErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runstore.ErrRunNotFound):
		apperrors.RespondWithError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case apperrors.IsExternalServiceError(err):
		apperrors.RespondWithError(w, r, http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR", err.Error())
	default:
		apperrors.RespondWithError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// SetHTTPErrorResponder substitutes the error responder. Passing nil
// restores the default.
func SetHTTPErrorResponder(fn func(w http.ResponseWriter, r *http.Request, err error)) {
	if fn == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	SetHTTPErrorResponder(nil)
}

// respondWithError renders err through the configured responder.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
