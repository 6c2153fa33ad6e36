package storm

import (
	"errors"
	"fmt"

	"github.com/syssam/storm/convert"
	dsql "github.com/syssam/storm/dialect/sql"
	"github.com/syssam/storm/entity"
)

// Sentinel errors. Every error returned by the client is a *QueryError
// wrapping one of these, a driver error, or both.
var (
	// ErrPlaceholderCount is returned when the number of ? placeholders in a
	// query differs from the number of arguments.
	ErrPlaceholderCount = errors.New("storm: placeholder count mismatch")

	// ErrUnknownEntity is returned for types without a registered descriptor.
	ErrUnknownEntity = entity.ErrUnknownEntity

	// ErrUnknownField is returned when a result column or field name is not
	// mapped and the client is strict.
	ErrUnknownField = entity.ErrUnknownField

	// ErrNullID is returned when a primary key value required by an
	// operation is null.
	ErrNullID = errors.New("storm: null primary key")

	// ErrForeignKey is returned when the foreign key field of a detail type
	// cannot be determined.
	ErrForeignKey = errors.New("storm: foreign key field not resolved")

	// ErrConversion is returned when a value cannot be converted.
	ErrConversion = convert.ErrConversion

	// ErrCompositeKey is returned when a single primary key is required but
	// the entity declares several.
	ErrCompositeKey = entity.ErrCompositeKey

	// ErrNoRows is returned when an entity row does not exist.
	ErrNoRows = errors.New("storm: no rows in result set")

	// ErrNotSingular is returned when a query expected to return at most one
	// row returns more.
	ErrNotSingular = errors.New("storm: result not singular")

	// ErrTransaction is returned when a transaction block fails.
	ErrTransaction = errors.New("storm: transaction failed")
)

// QueryError is the error kind returned by every client operation.
type QueryError struct {
	Entity string // Entity type, if any
	Op     string // Operation (e.g. "read", "create", "procedure")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("storm: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("storm: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// wrap returns err as a *QueryError, leaving errors that already are one
// untouched.
func wrap(entity, op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	if k := dsql.Constraint(err); k != dsql.NoConstraint {
		err = &ConstraintError{Kind: k, wrap: err}
	}
	return NewQueryError(entity, op, err)
}

// NotFoundError is returned when the row of an entity does not exist.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("storm: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("storm: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNoRows) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNoRows
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNoRows)
}

// NotSingularError is returned when a single-row read finds more rows.
type NotSingularError struct {
	query string
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	return fmt.Sprintf("storm: multiple results found for query %q", e.query)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	Kind dsql.ConstraintKind
	wrap error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("storm: %s constraint failed: %v", e.Kind, e.wrap)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e) || dsql.IsConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness
// constraint violation.
func IsUniqueConstraintError(err error) bool {
	return dsql.IsUniqueConstraintError(err)
}

// IsForeignKeyConstraintError reports if the error resulted from a database
// foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	return dsql.IsForeignKeyConstraintError(err)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Error returned by the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("storm: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
