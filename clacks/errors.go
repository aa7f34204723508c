package clacks

import "errors"

// Sentinel errors returned by the Service.
var (
	// ErrNoDevice means no transport is attached, or the attached one lost its port.
	ErrNoDevice = errors.New("clacks: no device attached")
	// ErrDuplicateID means a request with the same correlation id is still waiting.
	ErrDuplicateID = errors.New("clacks: correlation id already waiting")
	// ErrInvalidTimeout means a negative timeout was given.
	ErrInvalidTimeout = errors.New("clacks: timeout must not be negative")
	// ErrInvalidMessage means the message cannot be framed for the wire.
	ErrInvalidMessage = errors.New("clacks: invalid message")
	// ErrServiceClosed is returned by every operation after Close.
	ErrServiceClosed = errors.New("clacks: service closed")
	// ErrAlreadyAttached means a live transport is already attached.
	ErrAlreadyAttached = errors.New("clacks: device already attached")
	// ErrNilObserver is returned when registering a nil observer.
	ErrNilObserver = errors.New("clacks: observer is nil")
)
