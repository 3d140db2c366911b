package engine

import "errors"

var (
	// ErrClosed is returned when work is submitted to a closed pool or indexer.
	ErrClosed = errors.New("engine closed")

	// ErrUnknownToken is returned for tokens that were never issued or have
	// been forgotten.
	ErrUnknownToken = errors.New("unknown pending token")
)
