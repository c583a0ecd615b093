package session

import "errors"

var (
	// ErrInvalidConfig is returned for configurations that cannot run.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrStopped is returned by Start after the session ended.
	ErrStopped = errors.New("session stopped")
)
