package sim

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the core's boundary.
type ErrorKind int

const (
	// KindNotFound is a missing batch, run, team, snapshot or task reference.
	KindNotFound ErrorKind = iota + 1
	// KindDuplicateKey is a reference-data key collision.
	KindDuplicateKey
	// KindRunFault is any failure inside one run's simulation.
	KindRunFault
	// KindDispatchFault is a queue, capacity-wait or claim failure.
	KindDispatchFault
	// KindSerialization is a malformed snapshot or board payload.
	KindSerialization
)

// String returns the string representation of an error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindDuplicateKey:
		return "duplicate key"
	case KindRunFault:
		return "run fault"
	case KindDispatchFault:
		return "dispatch fault"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned by the core. Entity and ID name the
// offending reference; NotFound errors always carry the missing ID.
type Error struct {
	Kind   ErrorKind
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s %q)", e.Entity, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing reference.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

// RunFault wraps a failure of the run with the given id.
func RunFault(runID int64, err error) *Error {
	return &Error{Kind: KindRunFault, Entity: "run", ID: fmt.Sprint(runID), Err: err}
}

// DispatchFault wraps a failure of the dispatch loop.
func DispatchFault(op string, err error) *Error {
	return &Error{Kind: KindDispatchFault, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is a *Error of the given kind.
// A RunFault wrapping a NotFound matches both kinds.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound is shorthand for IsKind(err, KindNotFound).
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// ErrUnknownStrategy is returned when a team names a strategy the registry lacks.
var ErrUnknownStrategy = errors.New("unknown strategy")
