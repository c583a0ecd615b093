package storage

import "errors"

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by handles used after Close.
	ErrClosed = errors.New("store closed")
	// ErrWatchUnavailable is returned when change notifications cannot be
	// delivered. Callers fall back to single-instance operation.
	ErrWatchUnavailable = errors.New("change notifications unavailable")
)
