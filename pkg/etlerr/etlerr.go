// Package etlerr defines the failure taxonomy shared by every pipeline phase.
// Each condition is a sentinel so callers can errors.Is against it no matter
// how many times the error was wrapped on the way up.
package etlerr

import (
	"fmt"

	"github.com/StevenACoffman/anotherr/errors"
)

var (
	ErrSourceNotFound      = errors.New("source not found")
	ErrParse               = errors.New("parse error")
	ErrConnection          = errors.New("connection error")
	ErrSchemaMismatch      = errors.New("schema mismatch")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrConfiguration       = errors.New("configuration error")
	ErrColumnNotFound      = errors.New("column not found")
)

// Wrap ties err to one of the taxonomy sentinels while keeping the cause
// text. A nil cause tags the sentinel with msg alone.
func Wrap(kind, cause error, msg string) error {
	if cause == nil {
		return errors.Wrap(kind, msg)
	}
	return errors.Wrapf(kind, "%s: %v", msg, cause)
}

// Wrapf is Wrap with a format string.
func Wrapf(kind, cause error, format string, args ...interface{}) error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}
