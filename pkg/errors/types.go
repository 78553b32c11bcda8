package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the class of error
type ErrorType int

const (
	// ErrorTypeTransport indicates a transport layer error
	ErrorTypeTransport ErrorType = iota
	// ErrorTypeProtocol indicates a malformed wire request
	ErrorTypeProtocol
	// ErrorTypeStorage indicates a persistence failure
	ErrorTypeStorage
	// ErrorTypeNotFound indicates a not found error
	ErrorTypeNotFound
	// ErrorTypeUnauthorized indicates an authorization error
	ErrorTypeUnauthorized
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation
	// ErrorTypeCapacity indicates a configured limit was reached
	ErrorTypeCapacity
)

// Error codes surfaced to callers
const (
	CodeMissingLine       = "missing_line"
	CodeLineNotFound      = "line_not_found"
	CodeMaxLinesReached   = "max_lines_reached"
	CodeInvalidRequest    = "invalid_request"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTransition = "invalid_transition"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limited"
	CodeRegisterFailed    = "register_failed"
	CodeUpdateFailed      = "update_failed"
	CodeServerError       = "server_error"
)

// Error represents a structured error with metadata
type Error struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Message, e.Details, e.Cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// New creates a new error
func New(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// As finds the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code carried by err, or CodeServerError when
// err does not carry one.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return CodeServerError
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage returns the message that is safe to show to untrusted
// callers. Causes and details stay server-side.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return publicMessages[CodeServerError]
	}
	if msg, ok := publicMessages[e.Code]; ok {
		return msg
	}
	return e.Message
}

var publicMessages = map[string]string{
	CodeMissingLine:       "Falta indicar la línea.",
	CodeLineNotFound:      "La línea indicada no existe.",
	CodeMaxLinesReached:   "Se alcanzó el máximo de líneas permitidas.",
	CodeInvalidRequest:    "Solicitud inválida.",
	CodeInvalidStatus:     "Estado de línea inválido.",
	CodeInvalidTransition: "La línea no puede pasar a ese estado.",
	CodeUnauthorized:      "unauthorized",
	CodeForbidden:         "forbidden",
	CodeRateLimited:       "Demasiadas solicitudes, probá de nuevo en unos segundos.",
	CodeRegisterFailed:    "No pudimos registrar el mensaje.",
	CodeUpdateFailed:      "No pudimos actualizar la línea.",
	CodeServerError:       "Error interno del servidor.",
}
