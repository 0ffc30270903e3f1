// Package errors carries the error types shared by the CLI and the ops
// server: typed wrappers for failure classification and the JSON envelope
// rendered on HTTP error paths.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ExternalServiceError marks a failure in a dependency outside this
// process, such as object storage, the history store, or instance
// metadata.
type ExternalServiceError struct {
	Message string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NewExternalServiceError returns an ExternalServiceError with the given
// message and no underlying cause.
func NewExternalServiceError(msg string) error {
	return &ExternalServiceError{Message: msg}
}

// WrapExternalService wraps err as an ExternalServiceError.
func WrapExternalService(err error, msg string) error {
	return &ExternalServiceError{Message: msg, Err: err}
}

// IsExternalServiceError reports whether any error in the chain is an
// ExternalServiceError.
func IsExternalServiceError(err error) bool {
	var target *ExternalServiceError
	return stderrors.As(err, &target)
}

// InternalError marks an unexpected failure inside this process. It
// carries the request id active when the failure was wrapped so server
// logs and client responses correlate.
type InternalError struct {
	Message   string
	RequestID string
	Err       error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error { return e.Err }

// WrapInternal wraps err as an InternalError, tagging it with the request
// id carried by ctx when one is present.
func WrapInternal(ctx context.Context, err error, msg string) error {
	return &InternalError{
		Message:   msg,
		RequestID: RequestIDFromContext(ctx),
		Err:       err,
	}
}

// IsInternalError reports whether any error in the chain is an
// InternalError.
func IsInternalError(err error) bool {
	var target *InternalError
	return stderrors.As(err, &target)
}
