package coordinator

import (
	"errors"
	"fmt"
)

// Domain sentinels mapped to HTTP statuses by the delivery layer.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)

var (
	// ErrClosed is returned once the coordinator has shut down.
	ErrClosed = fmt.Errorf("coordinator closed: %w", ErrUnavailable)

	errSuperseded = errors.New("run superseded by a newer run")
	errShutdown   = errors.New("coordinator shutting down")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
