package model

import "errors"

// Error kinds shared by the lifecycle engine, the store and the API.
// Callers wrap them with context and match with errors.Is.
var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks an operation the count's current status forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrForbidden marks a caller without the role the operation needs.
	ErrForbidden = errors.New("insufficient permissions")

	// ErrNotFound marks a missing count, count line, item or user.
	ErrNotFound = errors.New("not found")
)
