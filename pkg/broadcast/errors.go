package broadcast

import "errors"

var (
	// ErrClosed is returned by Broadcast after Close.
	ErrClosed = errors.New("broadcast: broadcaster is closed")

	// ErrEncode is returned when a message cannot be serialized for a remote transport.
	ErrEncode = errors.New("broadcast: failed to encode message")
)
