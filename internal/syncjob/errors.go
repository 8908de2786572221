package syncjob

import (
	"errors"
	"fmt"

	"github.com/openmined/onesync/internal/db"
	"github.com/openmined/onesync/internal/syncsource"
)

// ErrorKind tells callers why a job operation failed so they can render a precise message.
type ErrorKind int

const (
	// KindUnknown is an error that did not come from this package.
	KindUnknown ErrorKind = iota
	// KindInvalid is an argument rejected before any store was touched.
	KindInvalid
	// KindNotFound is a job that does not exist in the home store.
	KindNotFound
	// KindNameExists is a job name already used by a different job id.
	KindNameExists
	// KindTooManySources is an intermediary storage that already relays between two sources.
	KindTooManySources
	// KindStoreUnavailable is a physical store that could not be opened or created.
	KindStoreUnavailable
	// KindStoreFailure is any other store fault; the transaction was rolled back.
	KindStoreFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid argument"
	case KindNotFound:
		return "not found"
	case KindNameExists:
		return "name exists"
	case KindTooManySources:
		return "too many sources"
	case KindStoreUnavailable:
		return "store unavailable"
	case KindStoreFailure:
		return "store failure"
	default:
		return "unknown"
	}
}

// Error is returned by every Manager operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Job  string
	Err  error
}

var (
	ErrInvalid          = &Error{Kind: KindInvalid}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrNameExists       = &Error{Kind: KindNameExists}
	ErrTooManySources   = &Error{Kind: KindTooManySources}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrStoreFailure     = &Error{Kind: KindStoreFailure}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Op, e.Job, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNameExists) works on wrapped
// operation errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a job error, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op, job string, err error) *Error {
	return &Error{Kind: kind, Op: op, Job: job, Err: err}
}

// storeError classifies a fault raised while talking to a store.
func storeError(op, job string, err error) error {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return err
	}

	kind := KindStoreFailure
	switch {
	case errors.Is(err, syncsource.ErrTooManySources):
		kind = KindTooManySources
	case errors.Is(err, db.ErrStoreUnavailable):
		kind = KindStoreUnavailable
	}
	return newError(kind, op, job, err)
}
