package ws

import "errors"

var (
	// ErrAuthFailure means no access token could be obtained within the
	// retry budget.
	ErrAuthFailure = errors.New("event connection: no usable credential")
	// ErrShutDown is returned after the connection has been disposed.
	ErrShutDown = errors.New("event connection shut down")
	// ErrAlreadyConnected is returned when a connection is already running
	// for the same tenant and venue.
	ErrAlreadyConnected = errors.New("event connection already running")
)
