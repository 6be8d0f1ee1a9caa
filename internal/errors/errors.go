package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for the code index.
// It carries enough context for logging, CLI output and MCP error mapping.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_301_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Coordination, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinel errors. Match them with errors.Is; matching is by code, so any
// IndexError built with the same code satisfies the check.
var (
	// ErrNotReady means the first full indexing pass has not completed.
	ErrNotReady = New(ErrCodeNotReady, "index is not ready", nil)

	// ErrElectionLost means the caller's lease epoch was superseded.
	ErrElectionLost = New(ErrCodeElectionLost, "leadership lost: lease epoch superseded", nil)

	// ErrLeaseHeld means another process holds a live lease.
	ErrLeaseHeld = New(ErrCodeLeaseHeld, "lease is held by another process", nil)

	// ErrDatabase marks store corruption or I/O failures.
	ErrDatabase = New(ErrCodeDatabase, "database error", nil)

	// ErrNotFound means a requested row does not exist.
	ErrNotFound = New(ErrCodeNotFound, "not found", nil)

	// ErrEmbeddingFailed means the embedding backend call failed.
	ErrEmbeddingFailed = New(ErrCodeEmbeddingFailed, "embedding failed", nil)

	// ErrInvalidQuery marks malformed query parameters.
	ErrInvalidQuery = New(ErrCodeInvalidQuery, "invalid query", nil)
)

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// DatabaseError creates a store error. Fatal to the current operation.
func DatabaseError(message string, cause error) *IndexError {
	return New(ErrCodeDatabase, message, cause)
}

// EmbeddingFailure creates an embedding backend error.
// The core never retries these; the caller decides.
func EmbeddingFailure(message string, cause error) *IndexError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// InvalidQuery creates a validation error for query parameters.
func InvalidQuery(message string) *IndexError {
	return New(ErrCodeInvalidQuery, message, nil)
}

// NotReady creates the advisory error returned by queries before the first
// full indexing pass completes.
func NotReady() *IndexError {
	return New(ErrCodeNotReady, "index is not ready: first indexing pass has not completed", nil).
		WithSuggestion("poll status until ready is true")
}

// ElectionLost creates the fencing error for a write issued under a stale epoch.
func ElectionLost(holderID string, epoch int64) *IndexError {
	return New(ErrCodeElectionLost, "write fenced: lease epoch superseded", nil).
		WithDetail("holder_id", holderID).
		WithDetail("epoch", fmt.Sprintf("%d", epoch))
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError.
func GetCategory(err error) Category {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
