package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrPermissionDenied is returned when a Session's role is not allowed to perform an operation.
var ErrPermissionDenied = errors.New("permission denied")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// WriteError means the record store rejected a mutation (permission, validation, network).
type WriteError struct {
	Op         string
	Collection string
	Err        error
}

func (err *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", err.Op, err.Collection, err.Err)
}

func (err *WriteError) Unwrap() error { return err.Err }

func NewWriteError(op, collection string, err error) error {
	return &WriteError{Op: op, Collection: collection, Err: err}
}

// NotFoundError means the referenced record id is absent.
type NotFoundError struct {
	Collection string
	ID         string
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", err.Collection, err.ID)
}

func NewNotFoundError(collection, id string) error {
	return &NotFoundError{Collection: collection, ID: id}
}

// QueryError means a query was malformed, or needs a composite index that does not exist yet.
// An IndexRequired error is not transient: it only succeeds once the index has been created.
type QueryError struct {
	Collection    string
	IndexRequired bool
	Err           error
}

func (err *QueryError) Error() string {
	if err.IndexRequired {
		return fmt.Sprintf("query %s: composite index required: %v", err.Collection, err.Err)
	}
	return fmt.Sprintf("query %s: %v", err.Collection, err.Err)
}

func (err *QueryError) Unwrap() error { return err.Err }

func NewQueryError(collection string, err error) error {
	return &QueryError{Collection: collection, Err: err}
}

func NewIndexRequiredError(collection string, fields []string) error {
	return &QueryError{Collection: collection, IndexRequired: true, Err: fmt.Errorf("fields %v", fields)}
}

// InvalidInputError means a caller-supplied value broke a numeric or format invariant.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (err *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", err.Field, err.Reason)
}

func NewInvalidInputError(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsWriteError(err error) bool {
	var target *WriteError
	return errors.As(err, &target)
}

func IsQueryError(err error) bool {
	var target *QueryError
	return errors.As(err, &target)
}

func IsQueryIndexRequired(err error) bool {
	var target *QueryError
	return errors.As(err, &target) && target.IndexRequired
}

func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
