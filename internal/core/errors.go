package core

import "errors"

// Recoverable failure kinds. All of these are backpressure or lookup signals
// encoded as return values; none of them aborts the process.
var (
	// ErrQueueFull signals that a bounded queue rejected a push.
	ErrQueueFull = errors.New("queue full")

	// ErrPoolExhausted signals that a fixed-size arena has no free slots.
	ErrPoolExhausted = errors.New("object pool exhausted")

	// ErrParse signals a malformed wire message; the message is counted and dropped.
	ErrParse = errors.New("malformed message")

	// ErrNotFound signals a cancel or lookup against an unknown order id.
	ErrNotFound = errors.New("order not found")

	// ErrBookFull signals that the aggregator's display depth cap dropped a level.
	ErrBookFull = errors.New("book depth cap reached")
)
