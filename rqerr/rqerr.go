// Package rqerr implements the four-kind error taxonomy of spec.md §7:
// build-time, plan-time, runtime-recoverable, and runtime-fatal. Every
// constructor wraps with github.com/pkg/errors so a stack trace survives
// propagation out through builder/compile/plan/exec, the same dependency
// ShiftLeftSecurity-gaum leans on for its entire error-handling story
// (errors.Errorf/errors.Wrap throughout db/chain).
package rqerr

import (
	"github.com/pkg/errors"
)

// Kind classifies where in the query lifecycle an error originated, and
// therefore how a caller is expected to react to it.
type Kind int

const (
	// BuildTime errors come from the fluent builder or compiler: unknown
	// alias, reserved $$-name misuse, duplicate Join alias, aggregate call
	// without allow_aggregates, select/into/groupBy called twice,
	// modification after finalize. The query is unusable; nothing ran.
	BuildTime Kind = iota
	// PlanTime errors come from finalize(): unassigned terms after hoisting,
	// a multi-store query, a schema-incompatible set operation. The query
	// is unusable; nothing ran.
	PlanTime
	// RuntimeRecoverable errors surface mid-execution as a stream error —
	// a duplicate key on insert, a cursor-level store error — and abort the
	// ambient transaction, but indicate a condition a caller might retry
	// after correcting its input.
	RuntimeRecoverable
	// RuntimeFatal errors also abort the ambient transaction but signal a
	// condition no retry would fix: an exception inside a predicate or
	// selector, corrupt group state, execution against a settled
	// transaction.
	RuntimeFatal
)

func (k Kind) String() string {
	switch k {
	case BuildTime:
		return "build-time"
	case PlanTime:
		return "plan-time"
	case RuntimeRecoverable:
		return "runtime-recoverable"
	case RuntimeFatal:
		return "runtime-fatal"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with the underlying, stack-carrying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is an *Error of the given kind, unwrapping through
// any wrapper chain via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Recoverable reports whether err is a RuntimeRecoverable error.
func Recoverable(err error) bool { return Is(err, RuntimeRecoverable) }

// Fatal reports whether err is a RuntimeFatal error.
func Fatal(err error) bool { return Is(err, RuntimeFatal) }

// Newf constructs a Kind error from a format string, with a stack trace
// attached at the call site (errors.Errorf).
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap annotates err with msg and a Kind, attaching a stack trace if err
// doesn't already carry one (errors.Wrap).
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

// Build is a convenience constructor for the common case of a build-time
// error.
func Build(format string, args ...interface{}) error { return Newf(BuildTime, format, args...) }

// Plan is a convenience constructor for the common case of a plan-time
// error.
func Plan(format string, args ...interface{}) error { return Newf(PlanTime, format, args...) }

// Runtime is a convenience constructor for a runtime-recoverable error.
func Runtime(format string, args ...interface{}) error {
	return Newf(RuntimeRecoverable, format, args...)
}

// Fatalf is a convenience constructor for a runtime-fatal error.
func Fatalf(format string, args ...interface{}) error {
	return Newf(RuntimeFatal, format, args...)
}
