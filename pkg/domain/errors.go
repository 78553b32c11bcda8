package domain

import (
	"github.com/HMasataka/linehub/pkg/errors"
)

// Errors surfaced by the hub and its collaborators. Add context with
// fmt.Errorf("%w: ...") rather than mutating these values.
var (
	// ErrMissingLine is returned when no line identifier or name was supplied
	ErrMissingLine = errors.New(errors.ErrorTypeValidation, errors.CodeMissingLine, "line identifier is required")

	// ErrLineNotFound is returned when an operation references an unknown line
	ErrLineNotFound = errors.New(errors.ErrorTypeNotFound, errors.CodeLineNotFound, "line not found")

	// ErrMaxLinesReached is returned when the registry is at capacity
	ErrMaxLinesReached = errors.New(errors.ErrorTypeCapacity, errors.CodeMaxLinesReached, "maximum number of lines reached")

	// ErrInvalidRequest is returned for malformed input such as an empty body
	ErrInvalidRequest = errors.New(errors.ErrorTypeValidation, errors.CodeInvalidRequest, "invalid request")

	// ErrInvalidStatus is returned when a status string is not recognized
	ErrInvalidStatus = errors.New(errors.ErrorTypeValidation, errors.CodeInvalidStatus, "invalid line status")

	// ErrInvalidTransition is returned when the state machine forbids a move
	ErrInvalidTransition = errors.New(errors.ErrorTypeValidation, errors.CodeInvalidTransition, "invalid status transition")

	// ErrUnauthorized is returned when the caller is not authenticated
	ErrUnauthorized = errors.New(errors.ErrorTypeUnauthorized, errors.CodeUnauthorized, "authentication required")

	// ErrForbidden is returned when the caller may not perform the operation
	ErrForbidden = errors.New(errors.ErrorTypeUnauthorized, errors.CodeForbidden, "operation not permitted")

	// ErrRateLimited is returned when a connection exceeds its request budget
	ErrRateLimited = errors.New(errors.ErrorTypeCapacity, errors.CodeRateLimited, "too many requests")

	// ErrHubStopped is returned when the hub is used after Stop
	ErrHubStopped = errors.New(errors.ErrorTypeInternal, errors.CodeServerError, "hub stopped")

	// ErrConnectionClosed is returned when writing to a closed connection
	ErrConnectionClosed = errors.New(errors.ErrorTypeTransport, "connection_closed", "connection closed")
)
