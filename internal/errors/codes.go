// Package errors provides structured error handling for Fathom.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (document store, snapshots)
//   - 3XX: Provider errors (embedding backend, network)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (engine, index)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates document store and snapshot errors.
	CategoryStorage Category = "STORAGE"
	// CategoryProvider indicates embedding provider and network errors.
	CategoryProvider Category = "PROVIDER"
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
	ErrCodeDocNotFound     = "ERR_201_DOC_NOT_FOUND"
	ErrCodeStoreFailed     = "ERR_202_STORE_FAILED"
	ErrCodeCorruptSnapshot = "ERR_203_CORRUPT_SNAPSHOT"
	ErrCodeSnapshotFailed  = "ERR_204_SNAPSHOT_FAILED"

	// Provider errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeTimeout              = "ERR_302_TIMEOUT"
	ErrCodeRateLimited          = "ERR_303_RATE_LIMITED"
	ErrCodeProviderResponse     = "ERR_304_PROVIDER_RESPONSE"
	ErrCodeProviderServer       = "ERR_305_PROVIDER_SERVER"
	ErrCodeNetwork              = "ERR_306_NETWORK"

	// Validation errors (400-499)
	ErrCodeInvalidArgument   = "ERR_401_INVALID_ARGUMENT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidWeights    = "ERR_403_INVALID_WEIGHTS"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeConflict     = "ERR_502_CONFLICT"
	ErrCodeIndexDrift   = "ERR_503_INDEX_DRIFT"
	ErrCodeSearchFailed = "ERR_504_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_DOC_NOT_FOUND")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptSnapshot:
		return SeverityFatal
	case ErrCodeIndexDrift:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimited, ErrCodeProviderServer,
		ErrCodeNetwork, ErrCodeEmbeddingUnavailable, ErrCodeConflict:
		return true
	default:
		return false
	}
}
