// internal/errors/errors.go
//
// Package errors carries typed diagnostics across package boundaries. The
// fixed-format stderr strings required for compile and runtime errors are
// written directly by the compiler and VM, since tests match on them
// byte-for-byte; this package is for everything above that layer, mainly
// the CLI turning a file-open or other host failure into a reportable error
// without losing its location.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	SyntaxError  ErrorType = "SyntaxError"
	RuntimeError ErrorType = "RuntimeError"
	HostError    ErrorType = "HostError"
)

// SourceLocation represents a location in source code.
type SourceLocation struct {
	File string
	Line int
}

// LoxError is a typed diagnostic with an optional source location. The CLI
// builds one (via NewHostError) when a script file cannot be read; its exit
// codes are chosen by the CLI's own control flow, not from this type.
type LoxError struct {
	Type     ErrorType
	Message  string
	Location SourceLocation
	cause    error
}

// Error implements the error interface.
func (e *LoxError) Error() string {
	if e.Location.File != "" {
		return fmt.Sprintf("%s: %s (%s:%d)", e.Type, e.Message, e.Location.File, e.Location.Line)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *LoxError) Unwrap() error { return e.cause }

// NewHostError wraps a host-level failure (file I/O, an OOM-class error
// surfaced as a Go error) with a stack trace via pkg/errors, so a verbose
// CLI path can Fprintf("%+v", err) to see where the failure originated
// instead of just the flattened message main prints by default.
func NewHostError(cause error, context string) *LoxError {
	return &LoxError{
		Type:    HostError,
		Message: context,
		cause:   errors.Wrap(cause, context),
	}
}

// Cause unwraps to the innermost error pkg/errors attached a trace to.
func (e *LoxError) Cause() error {
	if e.cause == nil {
		return nil
	}
	return errors.Cause(e.cause)
}
