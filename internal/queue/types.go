package queue

import "errors"

var (
	// ErrDuplicateID is returned by Push when a call with the same id is
	// already waiting in the queue.
	ErrDuplicateID = errors.New("tool call already queued")

	// ErrNoID is returned by Push for calls that were never assigned an id.
	ErrNoID = errors.New("tool call has no id")
)
