// Package ctrerr implements the core's error taxonomy: a closed set of
// kinds that every component reports through, and the CLI exit codes
// that go with them.
package ctrerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds enumerated for the container runtime
// core. It is a closed set, not an open string, so switches on it are
// exhaustive.
type Kind int

const (
	// Validation covers malformed ids/names/versions/tags, bad JSON,
	// unknown config keys, and unknown selector combinations.
	Validation Kind = iota
	// NotFound covers a selector that resolves to zero matches.
	NotFound
	// Conflict covers a selector resolving to multiple matches, or a
	// (name, version) uniqueness violation.
	Conflict
	// Busy covers a lock acquisition that timed out.
	Busy
	// Permission covers a missing-root or EACCES failure.
	Permission
	// IO covers any other filesystem error, propagated with path context.
	IO
	// External covers a non-zero exit from an external process.
	External
	// Corruption covers an on-disk invariant violation.
	Corruption
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case Busy:
		return "busy"
	case Permission:
		return "permission"
	case IO:
		return "io"
	case External:
		return "external"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// ExitCode is the CLI exit code associated with a Kind, per the core's
// external interface: 0 success, 1 generic failure, 2 usage error, 3
// busy, 4 not found.
func (k Kind) ExitCode() int {
	switch k {
	case NotFound:
		return 4
	case Busy:
		return 3
	case Validation:
		return 2
	default:
		return 1
	}
}

// Error is the core's error type: a Kind, the path or selector the
// error concerns, and the underlying cause.
type Error struct {
	Kind   Kind
	Target string // offending path/selector, printed to the user
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, target string, err error) *Error {
	return &Error{Kind: kind, Target: target, Err: err}
}

// Newf builds an *Error of the given kind from a format string.
func Newf(kind Kind, target, format string, args ...any) *Error {
	return &Error{Kind: kind, Target: target, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of err, or IO if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IO
}

// ExitCode computes the process exit code for err: 0 if err is nil,
// otherwise the Kind's exit code (1 if err is not a *Error).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.ExitCode()
	}
	return 1
}
