package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in pocketnode.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001
	ErrCodeStoreFailed   ErrorCode = 1002

	// Process lifecycle
	ErrCodeLockHeld        ErrorCode = 2001
	ErrCodeSpawnFailed     ErrorCode = 2002
	ErrCodeLivenessLost    ErrorCode = 2003
	ErrCodeShutdownTimeout ErrorCode = 2004
	ErrCodeInvalidState    ErrorCode = 2005

	// Daemon RPC
	ErrCodeRPCFailed ErrorCode = 3001
)

// PocketError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type PocketError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *PocketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *PocketError) Unwrap() error {
	return e.Err
}

// New creates a new PocketError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &PocketError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the first PocketError in err's chain,
// or ErrCodeUnknown when there is none.
func CodeOf(err error) ErrorCode {
	var pe *PocketError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Personal.AI order the ending
