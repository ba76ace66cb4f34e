// Package errs collects the sentinel error kinds the core uses, following
// spec.md §7, plus the wrapping helpers used to carry a failing LSN,
// offset, or handle through a subsystem boundary.
package errs

import (
	"errors"

	pingcaperr "github.com/pingcap/errors"
)

// Sentinel kinds, one per spec.md §7 bullet.
var (
	ErrPanic           = errors.New("environment panic: region is poisoned")
	ErrAlreadyInvalid  = errors.New("stale handle")
	ErrDeadlock        = errors.New("deadlock victim")
	ErrNotGranted      = errors.New("lock not granted")
	ErrNotFound        = errors.New("not found")
	ErrNoSpace         = errors.New("region out of space")
	ErrPerm            = errors.New("permission denied")
	ErrIO              = errors.New("i/o failure")
	ErrAgain           = errors.New("retry exhausted")
	ErrVerifyBad       = errors.New("verification finding")
	ErrVerifyFatal     = errors.New("verification aborted")
	ErrLogCorrupt      = errors.New("log sequence number chain is corrupt")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Wrap attaches a stack trace (via pingcap/errors) to an underlying
// sentinel so callers can both errors.Is against the kind and print the
// originating call site during debugging.
func Wrap(kind error, format string, args ...interface{}) error {
	return pingcaperr.Wrap(kind, pingcaperr.Errorf(format, args...).Error())
}

// Is is a thin re-export so callers don't need to import both errs and
// stdlib errors just to compare kinds.
func Is(err, kind error) bool { return errors.Is(err, kind) }
