package ripple

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes the access layer's failure modes.
type ErrorCode string

const (
	// CodeConnection marks open/close failures. Fatal to the affected
	// connection, not the process.
	CodeConnection ErrorCode = "CONNECTION"

	// CodeWriteConflict marks a busy/locked failure that survived the
	// configured retry policy.
	CodeWriteConflict ErrorCode = "WRITE_CONFLICT"

	// CodePoolExhausted marks a reader acquisition that timed out.
	CodePoolExhausted ErrorCode = "POOL_EXHAUSTED"

	// CodeReentrantCall marks a submission to a lane from within an
	// operation already running on that lane. Programmer error, never
	// retried.
	CodeReentrantCall ErrorCode = "REENTRANT_CALL"

	// CodeObserverVeto marks a commit rejected by a transaction
	// observer's WillCommit.
	CodeObserverVeto ErrorCode = "OBSERVER_VETO"

	// CodeClosed marks use of a closed database.
	CodeClosed ErrorCode = "DATABASE_CLOSED"
)

// Error is the typed error surfaced by the facade.
type Error struct {
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Lane identifies the execution lane involved, when known.
	Lane string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Lane != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (lane=%s): %v", e.Code, e.Message, e.Lane, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Lane != "":
		return fmt.Sprintf("%s: %s (lane=%s)", e.Code, e.Message, e.Lane)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrRollback, returned from a write operation, rolls the transaction back
// without treating the write as failed: Write returns nil.
var ErrRollback = errors.New("rollback requested")

func codeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsWriteConflict reports whether err is a retries-exhausted busy failure.
func IsWriteConflict(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeWriteConflict
}

// IsPoolExhausted reports whether err is a reader acquisition timeout.
func IsPoolExhausted(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodePoolExhausted
}

// IsReentrantCall reports whether err is a same-lane reentrant submission.
func IsReentrantCall(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeReentrantCall
}

// IsObserverVeto reports whether err is a commit vetoed by an observer.
func IsObserverVeto(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeObserverVeto
}

// IsClosed reports whether err is use-after-close.
func IsClosed(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeClosed
}
