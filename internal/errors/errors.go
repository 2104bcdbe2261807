package errors

import (
	stderrors "errors"
	"fmt"
)

// FathomError is the structured error type for Fathom.
// It provides rich context for error handling, logging, and user presentation.
type FathomError struct {
	// Code is the unique error code (e.g., "ERR_201_DOC_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FathomError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FathomError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with FathomError.
func (e *FathomError) Is(target error) bool {
	if t, ok := target.(*FathomError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *FathomError) WithDetail(key, value string) *FathomError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *FathomError) WithSuggestion(suggestion string) *FathomError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FathomError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FathomError {
	return &FathomError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FathomError from an existing error.
// The error's message becomes the FathomError message.
func Wrap(code string, err error) *FathomError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates a document-not-found error for the given id.
func NotFound(id string) *FathomError {
	return New(ErrCodeDocNotFound, fmt.Sprintf("document not found: %s", id), nil).
		WithDetail("id", id)
}

// InvalidArgument creates a validation error.
func InvalidArgument(message string) *FathomError {
	return New(ErrCodeInvalidArgument, message, nil)
}

// EmbeddingUnavailable creates an error signalling the embedding
// provider could not serve the request after retries were exhausted.
func EmbeddingUnavailable(message string, cause error) *FathomError {
	return New(ErrCodeEmbeddingUnavailable, message, cause)
}

// Timeout creates a deadline-exceeded error.
func Timeout(message string, cause error) *FathomError {
	return New(ErrCodeTimeout, message, cause)
}

// Conflict creates a concurrent-mutation conflict error.
func Conflict(message string) *FathomError {
	return New(ErrCodeConflict, message, nil)
}

// Drift creates an index-drift error for inconsistent index membership.
func Drift(message string, cause error) *FathomError {
	return New(ErrCodeIndexDrift, message, cause).
		WithSuggestion("run a consistency check and rebuild if drift persists")
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FathomError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FathomError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains a FathomError with the
// Retryable flag set.
func IsRetryable(err error) bool {
	var fe *FathomError
	if stderrors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsNotFound reports whether err is a document-not-found error.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeDocNotFound
}

// IsTimeout reports whether err is a deadline-exceeded error.
func IsTimeout(err error) bool {
	return GetCode(err) == ErrCodeTimeout
}

// IsEmbeddingUnavailable reports whether err signals an exhausted
// embedding provider.
func IsEmbeddingUnavailable(err error) bool {
	return GetCode(err) == ErrCodeEmbeddingUnavailable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var fe *FathomError
	if stderrors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first FathomError in the
// chain. Callers wrap with fmt.Errorf("...: %w", err), so the walk
// matters. Returns empty string when no FathomError is present.
func GetCode(err error) string {
	var fe *FathomError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from the first FathomError in the
// chain. Returns empty string when no FathomError is present.
func GetCategory(err error) Category {
	var fe *FathomError
	if stderrors.As(err, &fe) {
		return fe.Category
	}
	return ""
}
