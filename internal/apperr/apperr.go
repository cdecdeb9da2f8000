// Package apperr holds the sentinel errors shared by the domain, store and
// HTTP layers. Call sites wrap them with context; callers test with errors.Is.
package apperr

import "errors"

var (
	// ErrConflict reports a uniqueness violation: a second open session for a
	// user, a duplicate address, a duplicate status name.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState reports an illegal lifecycle transition, such as
	// recording a door on a paused or completed session.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument reports malformed input: a non-positive target, a
	// bad threshold, an unknown status.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNotFound = errors.New("not found")
)
