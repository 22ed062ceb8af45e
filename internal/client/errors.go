package client

import "errors"

var (
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("client is shutting down")
	// ErrStopped is returned by Listen when the handler asked to stop.
	ErrStopped = errors.New("handler stopped listening")
	// ErrReservedID is returned by Send for ids in the protocol's reserved range.
	ErrReservedID = errors.New("message id is reserved for the protocol")
	// ErrEmptyName is returned by Connect without a client name.
	ErrEmptyName = errors.New("client name is required")
)
