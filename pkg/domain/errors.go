package domain

import "errors"

// Common domain errors
var (
	// ErrClientNotFound is returned when a client is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrConnectionClosed is returned when sending on a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a connection cannot accept more writes
	ErrSendBufferFull = errors.New("send buffer is full")

	// ErrHubNotRunning is returned when the hub is used outside Running state
	ErrHubNotRunning = errors.New("hub not running")

	// ErrInvalidMessage is returned for messages that cannot be decoded
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnsupportedType is returned for message types the hub does not accept
	ErrUnsupportedType = errors.New("unsupported message type")
)
