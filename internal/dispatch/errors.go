package dispatch

import "errors"

var (
	// ErrChannelClosed is returned by Execute when its result channel was
	// closed without a value.
	ErrChannelClosed = errors.New("result channel closed before a response arrived")

	// ErrUnknownID is returned by Submit when no live correlation entry
	// exists for the result's id.
	ErrUnknownID = errors.New("unknown id")

	// ErrPollTimeout is returned by Pickup when nothing was queued within
	// the poll timeout. It is a normal outcome, not a failure.
	ErrPollTimeout = errors.New("poll timeout")

	// ErrNotifierClosed is returned by Pickup once the dispatcher is closed.
	ErrNotifierClosed = errors.New("change notifier closed")

	// ErrClosed is returned by Execute once the dispatcher is closed.
	ErrClosed = errors.New("dispatcher closed")
)
