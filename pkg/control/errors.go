package control

import "errors"

var (
	// ErrUnrecoverable marks the reason the loop entered the faulted state.
	ErrUnrecoverable = errors.New("unrecoverable controller error")
	// ErrFaulted is returned by operations that are refused once the loop has faulted.
	ErrFaulted = errors.New("controller is faulted")
	// ErrNotInitialized is returned when the loop is stepped before Init succeeded.
	ErrNotInitialized = errors.New("controller is not initialized")
)
