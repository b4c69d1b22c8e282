package fixer

import "fmt"

// ValidationError reports input that cannot be turned into a conformant record:
// a pixel buffer that disagrees with its geometry, or a record missing fields
// that have no default.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *ValidationError) Kind() string {
	return "ValidationError"
}

// InternalError reports an unexpected failure while building or encoding a record.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Kind returns the error's taxonomy kind.
func (e *InternalError) Kind() string {
	return "InternalError"
}
