// Panic recovery utilities. Estimators that fan work out across goroutines
// (forests, bootstrap replicas) use these to turn unexpected panics into
// structured errors instead of crashing the caller.

package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError is an error created from a recovered panic, carrying the panic
// value and the stack trace at the point of recovery.
type PanicError struct {
	// PanicValue is the original value passed to panic().
	PanicValue interface{}

	// StackTrace is the stack trace captured at recovery time.
	StackTrace string

	// Operation identifies where the panic was recovered.
	Operation string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap returns nil; a PanicError has no underlying error.
func (e *PanicError) Unwrap() error {
	return nil
}

// String includes the captured stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a PanicError for the given operation and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover converts a recovered panic into an error assigned to *errp. Use in
// a deferred call:
//
//	func (f *Forest) growTree(...) (err error) {
//	    defer errors.Recover("Forest.growTree", &err)
//	    ...
//	}
func Recover(operation string, errp *error) {
	if r := recover(); r != nil {
		*errp = WithStack(NewPanicError(operation, r))
	}
}
