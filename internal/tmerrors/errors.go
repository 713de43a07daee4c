// Package tmerrors defines the sentinel error kinds used across the
// temporal merge engine and the wrapping helpers that attach operation
// context to them.
package tmerrors

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel error kinds, see spec.md §7.
var (
	// ErrInvalidConfig covers missing era metadata, empty identity+lookup
	// sets, unknown row id / correlation / ephemeral columns, forbidden use
	// of a synchronized or temporal column as ephemeral, and feedback
	// columns of the wrong type. Always raised eagerly, before any DML.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrIncompatibleSchema covers source/target column type mismatches and
	// mismatched range types.
	ErrIncompatibleSchema = errors.New("incompatible schema")

	// ErrPlannerInternal covers a source row that produced no plan
	// operation, or an unexpected action combination emitted by the
	// planner. Surfaced per-row via feedback status ERROR; the call as a
	// whole rolls back.
	ErrPlannerInternal = errors.New("planner internal error")

	// ErrConstraintViolation is raised by the storage engine during DML and
	// propagated after constraint/search-path state is restored.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound indicates a requested catalog or plan resource does not
	// exist.
	ErrNotFound = errors.New("not found")
)

// Wrap attaches op as context to err, converting sql.ErrNoRows to
// ErrNotFound for consistent error handling further up the stack.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted operation description.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Sprintf(format, args...), err)
}

// InvalidConfig wraps err (or builds a fresh error from msg, if err is nil)
// as ErrInvalidConfig.
func InvalidConfig(msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %v: %w", msg, err, ErrInvalidConfig)
	}
	return fmt.Errorf("%s: %w", msg, ErrInvalidConfig)
}

// IncompatibleSchema wraps a schema-mismatch description as ErrIncompatibleSchema.
func IncompatibleSchema(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrIncompatibleSchema)
}

// PlannerInternal wraps a planner-internal description as ErrPlannerInternal.
func PlannerInternal(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrPlannerInternal)
}

// IsInvalidConfig reports whether err is or wraps ErrInvalidConfig.
func IsInvalidConfig(err error) bool { return errors.Is(err, ErrInvalidConfig) }

// IsIncompatibleSchema reports whether err is or wraps ErrIncompatibleSchema.
func IsIncompatibleSchema(err error) bool { return errors.Is(err, ErrIncompatibleSchema) }

// IsPlannerInternal reports whether err is or wraps ErrPlannerInternal.
func IsPlannerInternal(err error) bool { return errors.Is(err, ErrPlannerInternal) }

// IsConstraintViolation reports whether err is or wraps ErrConstraintViolation.
func IsConstraintViolation(err error) bool { return errors.Is(err, ErrConstraintViolation) }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
