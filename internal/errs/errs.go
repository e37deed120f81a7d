// Package errs classifies errors so callers can decide whether to retry,
// report to the client, or abort.
package errs

import (
	"errors"
	"fmt"
)

// Class is the handling classification of an error
type Class int

const (
	// Unclassified errors are treated as infrastructure failures
	Unclassified Class = iota
	// Data errors concern a single record and are normally only counted
	Data
	// Structural errors abort an ingestion before any record is sent
	Structural
	// Conflict errors are lifecycle conflicts the caller may retry later
	Conflict
	// Infrastructure errors come from the process, the store or the network
	Infrastructure
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case Data:
		return "data"
	case Structural:
		return "structural"
	case Conflict:
		return "conflict"
	case Infrastructure:
		return "infrastructure"
	default:
		return "unclassified"
	}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func wrap(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// DataErr marks err as a per-record data error
func DataErr(err error) error { return wrap(Data, err) }

// StructuralErr marks err as a structural error
func StructuralErr(err error) error { return wrap(Structural, err) }

// ConflictErr marks err as a lifecycle conflict
func ConflictErr(err error) error { return wrap(Conflict, err) }

// InfraErr marks err as an infrastructure error
func InfraErr(err error) error { return wrap(Infrastructure, err) }

// Conflictf formats a new lifecycle conflict error
func Conflictf(format string, args ...any) error {
	return ConflictErr(fmt.Errorf(format, args...))
}

// Structuralf formats a new structural error
func Structuralf(format string, args ...any) error {
	return StructuralErr(fmt.Errorf(format, args...))
}

// ClassOf returns the outermost classification found in err's chain
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Unclassified
}

// IsConflict reports whether err is a lifecycle conflict
func IsConflict(err error) bool { return err != nil && ClassOf(err) == Conflict }

// IsStructural reports whether err is a structural error
func IsStructural(err error) bool { return err != nil && ClassOf(err) == Structural }

// IsInfra reports whether err is an infrastructure failure. Unclassified
// errors count as one.
func IsInfra(err error) bool {
	if err == nil {
		return false
	}
	c := ClassOf(err)
	return c == Infrastructure || c == Unclassified
}

// IsRetryable reports whether retrying the same call later may succeed.
// Conflicts and infrastructure failures are retryable; data and structural
// errors will fail again with the same input.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassOf(err) {
	case Conflict, Infrastructure, Unclassified:
		return true
	}
	return false
}
