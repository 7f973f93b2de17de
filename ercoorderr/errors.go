// Package ercoorderr defines the sentinel error kinds raised by the ER
// coordinator core, per the error handling design.
package ercoorderr

import "fmt"

// Kind classifies a coordinator error so callers can branch on it with
// errors.Is without depending on message text.
type Kind int

const (
	// KindInvalidArgument covers malformed scheme parameters, a nil
	// communicator, an empty set name, or any other caller-supplied
	// value the core rejects before touching storage.
	KindInvalidArgument Kind = iota + 1
	// KindMissingReference covers a scheme, set, or on-disk state
	// reference that doesn't exist: an unknown scheme id passed to
	// CreateSet, an unknown set id passed to Dispatch, a set with no
	// recorded state when REBUILD needs one.
	KindMissingReference
	// KindCollaboratorFailure covers a codec or shuffle call returning
	// an error, or a state file write failing for a local I/O reason.
	KindCollaboratorFailure
	// KindReplicaDivergence names storage-group replicas of the state
	// file disagreeing. state.Read resolves that case itself (the lowest
	// world rank with a non-NULL replica wins) and does not return this
	// kind; all replicas NULL is a plain NULL result, not an error.
	KindReplicaDivergence
	// KindFinalizeWithLiveHandles covers Finalize being called while
	// scheme or set handles are still open.
	KindFinalizeWithLiveHandles
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindMissingReference:
		return "missing reference"
	case KindCollaboratorFailure:
		return "collaborator failure"
	case KindReplicaDivergence:
		return "replica divergence"
	case KindFinalizeWithLiveHandles:
		return "finalize with live handles"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every exported coordinator
// operation that can fail. Op names the operation that failed (e.g.
// "CreateScheme", "Dispatch"), and Err, when non-nil, is the underlying
// cause wrapped via %w so errors.As/Unwrap keep working.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, ercoorderr.New(KindMissingReference, "", nil)),
// or more conveniently compare against the Err* sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, op, err)
}

func sentinel(k Kind) error { return &Error{Kind: k} }

var (
	ErrInvalidArgument        = sentinel(KindInvalidArgument)
	ErrMissingReference        = sentinel(KindMissingReference)
	ErrCollaboratorFailure     = sentinel(KindCollaboratorFailure)
	ErrReplicaDivergence       = sentinel(KindReplicaDivergence)
	ErrFinalizeWithLiveHandles = sentinel(KindFinalizeWithLiveHandles)
)
