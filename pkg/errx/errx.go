// Package errx defines the error taxonomy shared by the funnel pipeline and
// the HTTP layer. Every rejection a client can observe maps to one Code so
// handlers can translate errors without string matching.
package errx

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies an error for the API boundary.
type Code string

const (
	// CodeInvalidIdentifier rejects malformed session or client ids before
	// any store access.
	CodeInvalidIdentifier Code = "invalid_identifier"
	// CodeRateLimited is soft and retryable; the response carries a
	// retry-after hint.
	CodeRateLimited Code = "rate_limited"
	// CodeBanned is hard; retryable only once the ban expires.
	CodeBanned Code = "banned"
	// CodeContentRejected means the risk analyzer returned a high verdict and
	// the message never reached the conversation.
	CodeContentRejected Code = "content_rejected"
	// CodeSessionNotFound covers expired or unknown sessions; the client must
	// restart the conversation.
	CodeSessionNotFound Code = "session_not_found"
	// CodeInterpreterFailure signals the external interpreter errored or timed
	// out. No session state was mutated.
	CodeInterpreterFailure Code = "interpreter_failure"
	// CodeSubmissionInvalid carries field-level survey validation errors.
	CodeSubmissionInvalid Code = "submission_invalid"
	// CodeInternal is the generic fallback for everything else.
	CodeInternal Code = "internal_error"
)

// AppError wraps an underlying error with a taxonomy code and a safe,
// user-facing message.
type AppError struct {
	Err     error
	Code    Code
	Message string
	// Fields holds per-field validation errors for CodeSubmissionInvalid.
	Fields map[string]string
	// RetryAfter hints when a CodeRateLimited rejection may be retried.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error { return e.Err }

// Is matches on taxonomy code so callers can compare against sentinel values.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// New creates an AppError with the provided code and message.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Err: err, Code: code, Message: message}
}

// CodeOf extracts the taxonomy code from any error chain. Unknown errors are
// classified as internal.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps a taxonomy code to its transport status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidIdentifier, CodeSubmissionInvalid:
		return http.StatusBadRequest
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBanned, CodeContentRejected:
		return http.StatusForbidden
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeInterpreterFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
