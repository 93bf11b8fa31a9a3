package stream

import "errors"

// Sentinel errors for stream sources.
var (
	ErrDisconnected = errors.New("stream: disconnected")
	ErrClosed       = errors.New("stream: closed")
	ErrProbe        = errors.New("stream: probe failed")
)
