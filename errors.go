package tinyorm

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error is the error type returned by every tinyorm operation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error

	// SQL and Params are set when the error was produced by a statement,
	// so a surprising row count can be traced back to what was sent.
	SQL    string
	Params []interface{}
}

// Error implements the error interface
func (e Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.SQL != "" {
		msg += fmt.Sprintf(" [sql: %s, params: %v]", e.SQL, e.Params)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error of the same type.
func (e Error) Is(target error) bool {
	var t Error
	if errors.As(target, &t) {
		return e.Type == t.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

func schemaErrorf(format string, args ...interface{}) Error {
	return NewError(ErrorTypeSchema, fmt.Sprintf(format, args...))
}

func primaryKeyErrorf(format string, args ...interface{}) Error {
	return NewError(ErrorTypePrimaryKey, fmt.Sprintf(format, args...))
}

func executionError(message, sql string, params []interface{}, cause error) Error {
	return Error{
		Type:    ErrorTypeExecution,
		Message: message,
		Cause:   cause,
		SQL:     sql,
		Params:  params,
	}
}

func consistencyError(message, sql string, params []interface{}) Error {
	return Error{
		Type:    ErrorTypeConsistency,
		Message: message,
		SQL:     sql,
		Params:  params,
	}
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// IsSchema checks if an error is a "schema" error
func IsSchema(err error) bool { return IsErrorType(err, ErrorTypeSchema) }

// IsPrimaryKey checks if an error is a "primary_key" error
func IsPrimaryKey(err error) bool { return IsErrorType(err, ErrorTypePrimaryKey) }

// IsConsistency checks if an error is a "consistency" error
func IsConsistency(err error) bool { return IsErrorType(err, ErrorTypeConsistency) }

// IsExecution checks if an error is an "execution" error
func IsExecution(err error) bool { return IsErrorType(err, ErrorTypeExecution) }

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool { return IsErrorType(err, ErrorTypeNotFound) }

// IsValidation checks if an error is a "validation" error
func IsValidation(err error) bool { return IsErrorType(err, ErrorTypeValidation) }
