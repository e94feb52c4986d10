package rethinkengine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every class-scoped NotFoundError.
	ErrNotFound = errors.New("rethinkengine: document not found")
	// ErrMultipleResults matches every class-scoped MultipleResultsError.
	ErrMultipleResults = errors.New("rethinkengine: multiple documents returned")

	ErrNotConnected     = errors.New("rethinkengine: not connected")
	ErrSchemaRegistered = errors.New("rethinkengine: class already registered")
	ErrBadClass         = errors.New("rethinkengine: malformed class declaration")
	ErrBadOperation     = errors.New("rethinkengine: malformed operation")
	ErrClosedCursor     = errors.New("rethinkengine: cursor is closed")

	// ErrTableUnknown fails reads addressed at a table the connection
	// does not hold. Writes report a missing table in the WriteResult.
	ErrTableUnknown = errors.New("rethinkengine: table unknown")
)

// NotFoundError is the class-scoped "no such document" failure. Each
// registered class hands out its own instance so callers can tell a
// missing Post from a missing Author with errors.Is, while the bare
// ErrNotFound sentinel still matches any class.
type NotFoundError struct {
	Class string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rethinkengine: %s: document not found", e.Class)
}

func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	t, ok := target.(*NotFoundError)
	return ok && t.Class == e.Class
}

// MultipleResultsError reports that a single-document lookup matched
// more than one document. Scoped per class like NotFoundError.
type MultipleResultsError struct {
	Class string
}

func (e *MultipleResultsError) Error() string {
	return fmt.Sprintf("rethinkengine: %s: multiple documents returned", e.Class)
}

func (e *MultipleResultsError) Is(target error) bool {
	if target == ErrMultipleResults {
		return true
	}
	t, ok := target.(*MultipleResultsError)
	return ok && t.Class == e.Class
}

// ValidationError reports a field value of the wrong shape, found
// before anything was sent to the connection.
type ValidationError struct {
	Class string
	Field string
	Kind  string
	Value any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rethinkengine: %s: field %q: %s is of wrong type %T",
		e.Class, e.Field, e.Kind, e.Value)
}

// OperationError carries the first error line a write result reported.
type OperationError struct {
	Detail string
}

func (e *OperationError) Error() string {
	return "rethinkengine: operation failed: " + e.Detail
}

// UnknownFieldError reports access to a name the class never declared
// and the instance never stored.
type UnknownFieldError struct {
	Class string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("rethinkengine: %s has no field %q", e.Class, e.Field)
}
