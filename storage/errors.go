package storage

import "errors"

// Storage error constants
var (
	// ErrRunNotFound is returned when a run id is not in the history
	ErrRunNotFound = errors.New("run not found")

	// ErrHistoryClosed is returned when the history database was closed
	ErrHistoryClosed = errors.New("history database is closed")
)
