// Package errors provides structured error types for the dataflow runtime.
// All errors include a category, code, message, and retryable flag so the
// graph builder, executor, and runner can classify failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryGraph      ErrorCategory = "GRAPH"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryExecution  ErrorCategory = "EXECUTION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCheckpoint ErrorCategory = "CHECKPOINT"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Graph construction codes
	CodeDuplicateTable = "DUPLICATE_TABLE"
	CodeUnknownTable   = "UNKNOWN_TABLE"
	CodeDuplicateFlow  = "DUPLICATE_FLOW"
	CodeDanglingFlow   = "DANGLING_FLOW"
	CodeCyclicGraph    = "CYCLIC_GRAPH"
	CodeInvalidFlow    = "INVALID_FLOW"

	// Schema codes
	CodeInvalidSchema   = "INVALID_SCHEMA"
	CodeSchemaViolation = "SCHEMA_VIOLATION"

	// Source codes
	CodeParseError   = "PARSE_ERROR"
	CodeListFailed   = "LIST_FAILED"
	CodeFetchFailed  = "FETCH_FAILED"
	CodeNoValidUnits = "NO_VALID_UNITS"

	// Execution codes
	CodeTimeout          = "TIMEOUT"
	CodeTransformFailed  = "TRANSFORM_FAILED"
	CodeDependencyFailed = "DEPENDENCY_FAILED"

	// Storage codes
	CodePersistFailed  = "PERSIST_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Checkpoint codes
	CodeCheckpointRead  = "CHECKPOINT_READ_FAILED"
	CodeCheckpointWrite = "CHECKPOINT_WRITE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// FlowError is the structured error type used throughout the runtime.
type FlowError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *FlowError) Is(target error) bool {
	var t *FlowError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new FlowError.
func New(category ErrorCategory, code, message string) *FlowError {
	return &FlowError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new FlowError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *FlowError {
	return &FlowError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *FlowError) WithDetails(details map[string]interface{}) *FlowError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a FlowError.
func GetCategory(err error) ErrorCategory {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a FlowError.
func GetCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether err (or its chain) carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// isRetryable reports whether re-running the cycle can be expected to succeed
// without any change to inputs or declarations.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryExecution && code == CodeTimeout:
		return true
	case category == ErrCategorySource && code == CodeListFailed:
		return true
	case category == ErrCategorySource && code == CodeFetchFailed:
		return true
	case category == ErrCategoryStorage && code == CodePersistFailed:
		return true
	case category == ErrCategoryCheckpoint && code == CodeCheckpointWrite:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is matching. Only category and code are compared.
var (
	ErrDuplicateTable   = New(ErrCategoryGraph, CodeDuplicateTable, "duplicate table")
	ErrUnknownTable     = New(ErrCategoryGraph, CodeUnknownTable, "unknown table")
	ErrDuplicateFlow    = New(ErrCategoryGraph, CodeDuplicateFlow, "duplicate flow")
	ErrDanglingFlow     = New(ErrCategoryGraph, CodeDanglingFlow, "dangling flow")
	ErrCyclicGraph      = New(ErrCategoryGraph, CodeCyclicGraph, "cyclic graph")
	ErrSchemaViolation  = New(ErrCategorySchema, CodeSchemaViolation, "schema violation")
	ErrParse            = New(ErrCategorySource, CodeParseError, "parse error")
	ErrTimeout          = New(ErrCategoryExecution, CodeTimeout, "timeout")
	ErrDependencyFailed = New(ErrCategoryExecution, CodeDependencyFailed, "dependency failed")
)

// Convenience constructors for common errors.

func NewGraphError(code, message string) *FlowError {
	return New(ErrCategoryGraph, code, message)
}

func NewSchemaError(code, message string) *FlowError {
	return New(ErrCategorySchema, code, message)
}

func NewSourceError(code, message string, cause error) *FlowError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewExecutionError(code, message string, cause error) *FlowError {
	return Wrap(ErrCategoryExecution, code, message, cause)
}

func NewStorageError(code, message string, cause error) *FlowError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCheckpointError(code, message string, cause error) *FlowError {
	return Wrap(ErrCategoryCheckpoint, code, message, cause)
}

func NewInternalError(message string, cause error) *FlowError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// NewParseError reports a malformed input unit.
func NewParseError(unit string, cause error) *FlowError {
	return Wrap(ErrCategorySource, CodeParseError, fmt.Sprintf("malformed unit %q", unit), cause).
		WithDetails(map[string]interface{}{"unit": unit})
}

// ParseErrorUnit returns the unit named by a parse error, or "".
func ParseErrorUnit(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) && fe.Code == CodeParseError {
		if unit, ok := fe.Details["unit"].(string); ok {
			return unit
		}
	}
	return ""
}
