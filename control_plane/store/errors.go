package store

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the command subsystem. The HTTP layer maps
// these to status codes; handler failures that are none of them are captured
// into the command's terminal ERROR state instead of being surfaced.
var (
	// ErrValidation marks malformed or missing required input (400).
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized marks a permission or tenant-scoping denial (403).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a missing row for the given tenant (404).
	ErrNotFound = errors.New("not found")
)

// ValidationErrorf wraps ErrValidation with a caller-visible message.
func ValidationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// NotFoundErrorf wraps ErrNotFound with a caller-visible message.
func NotFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// UnauthorizedErrorf wraps ErrUnauthorized with a caller-visible message.
func UnauthorizedErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrUnauthorized}, args...)...)
}
