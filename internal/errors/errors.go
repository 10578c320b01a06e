// Package errors provides the error helpers shared by the rest of
// waterfall. It wraps github.com/pkg/errors so that every error gets a
// stack trace attached at its point of origin, and adds a Fatal marker for
// errors that must abort an upload or download outright rather than being
// absorbed by the retry/cooldown loop.
package errors

import (
	"github.com/pkg/errors"
)

// New, Wrap, Wrapf, Errorf, Cause, WithStack, Is and As are re-exported so
// callers only ever need to import this package.
var (
	New       = errors.New
	Wrap      = errors.Wrap
	Wrapf     = errors.Wrapf
	Errorf    = errors.Errorf
	Cause     = errors.Cause
	WithStack = errors.WithStack
	Is        = errors.Is
	As        = errors.As
)

// fatal marks an error as non-recoverable: the container uploader and
// downloader must surface it to the caller instead of retrying or
// re-enqueueing the affected range.
type fatal struct {
	error
}

// Fatal creates an error that is marked as fatal.
func Fatal(s string) error {
	return fatal{errors.New(s)}
}

// Fatalf creates a fatal error based on a format string and values.
func Fatalf(s string, args ...interface{}) error {
	return fatal{errors.Errorf(s, args...)}
}

// IsFatal tests whether err is marked as fatal.
func IsFatal(err error) bool {
	_, ok := err.(fatal)
	return ok
}
