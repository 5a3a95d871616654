package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Handshake errors, reported to the client in an error frame before close.
var (
	ErrHandshakeTimeout = errors.New("no register frame received in time")
	ErrNotRegistration  = errors.New("first frame must be register")
	ErrUnknownUser      = errors.New("user is not known to the directory")
	ErrRoleMismatch     = errors.New("declared role does not match the directory")
)
