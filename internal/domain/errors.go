package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no live session exists for a code.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrInvalidState is returned when an operation does not fit the session's
	// current state (e.g. advancing a session that never started).
	ErrInvalidState = errors.New("operation invalid for session state")
	// ErrQuizNotFound indicates the authoring side has no quiz for the code.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrBadRecord indicates a persisted session blob could not be decoded.
	ErrBadRecord = errors.New("malformed session record")
)
