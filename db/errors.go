package db

import (
	"fmt"
	"strings"

	"github.com/teranos/cyberlens/errors"
)

// ErrDatabaseClosed marks store errors raised after the database was closed,
// usually while the server or scheduler is shutting down.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed database, either
// marked by WrapError or straight from database/sql.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	// database/sql does not export its closed-pool error
	return strings.Contains(err.Error(), "database is closed")
}

// WrapError wraps a store error with msg. A closed-database error is also
// marked with ErrDatabaseClosed and errors.ErrServiceUnavailable so handlers
// answer 503 and background jobs can stop quietly.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsDatabaseClosed(err) {
		err = errors.Mark(errors.Mark(err, ErrDatabaseClosed), errors.ErrServiceUnavailable)
	}
	return errors.Wrap(err, msg)
}

// WrapErrorf is WrapError with a formatted message
func WrapErrorf(err error, format string, args ...interface{}) error {
	return WrapError(err, fmt.Sprintf(format, args...))
}
