// Package errors provides structured error handling for the code index.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (database, disk)
//   - 3XX: Coordination errors (readiness, leadership)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (embedding, chunking)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index store and disk errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCoordination indicates readiness and leadership errors.
	CategoryCoordination Category = "COORDINATION"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeDatabase     = "ERR_201_DATABASE"
	ErrCodeNotFound     = "ERR_202_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_203_CORRUPT_INDEX"
	ErrCodeDatabaseBusy = "ERR_204_DATABASE_BUSY"

	// Coordination errors (300-399)
	ErrCodeNotReady     = "ERR_301_NOT_READY"
	ErrCodeElectionLost = "ERR_302_ELECTION_LOST"
	ErrCodeLeaseHeld    = "ERR_303_LEASE_HELD"

	// Validation errors (400-499)
	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"
	ErrCodeInvalidInput = "ERR_402_INVALID_INPUT"
	ErrCodeInvalidPath  = "ERR_403_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeChunkingFailed  = "ERR_503_CHUNKING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "2" from "ERR_201_DATABASE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCoordination
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeNotReady, ErrCodeLeaseHeld:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// NotReady is advisory: the caller owns the polling loop.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDatabaseBusy, ErrCodeNotReady, ErrCodeLeaseHeld:
		return true
	default:
		return false
	}
}
