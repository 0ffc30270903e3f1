package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// exitCodeError wraps a command failure so Execute can exit with the
// Foundry code instead of a generic 1.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

// exitError builds a command error carrying an exit code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{
		code: code,
		err:  fmt.Errorf("%s: %w (exit code %d)", message, err, code),
	}
}

// ExitWithCode logs the failure and terminates immediately. Commands that
// run outside the cobra error path (doctor, serve shutdown) use this.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if err != nil {
		logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	} else {
		logger.Error(message, zap.Int("exit_code", code))
	}
	os.Exit(code)
}
