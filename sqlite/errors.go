package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ConnectionError reports a failure to open or close a connection.
// Fatal to the affected connection, not the process.
type ConnectionError struct {
	Label string
	Path  string
	Err   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("connection %q at %s: %v", e.Label, e.Path, e.Err)
	}
	return fmt.Sprintf("connection %q: %v", e.Label, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsBusy reports whether err is a transient SQLITE_BUSY or SQLITE_LOCKED
// failure, the class of errors worth retrying.
func IsBusy(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}

// IsConstraint reports whether err is a constraint violation from the
// engine. Commit-hook vetoes also surface as constraint errors; callers
// that install a veto should check their veto state first.
func IsConstraint(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint
}
