package core

import "errors"

var (
	// ErrQueueClosed is returned by Push once the queue has been closed.
	ErrQueueClosed = errors.New("message queue closed")
	// ErrAlreadyRunning is returned when Run is called on a hub twice.
	ErrAlreadyRunning = errors.New("hub already running")
)
