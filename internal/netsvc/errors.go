package netsvc

import "errors"

var (
	// ErrSessionNotFound is returned when an operation names a session
	// that the registry has never seen, or has already torn down.
	ErrSessionNotFound = errors.New("netsvc: session not found")
	// ErrChannelClosed is returned by a write against a channel whose
	// output queue has already been closed.
	ErrChannelClosed = errors.New("netsvc: channel closed")
	// ErrStreamingBusy is returned when RunStreaming is called for a
	// session that already has a streaming source attached.
	ErrStreamingBusy = errors.New("netsvc: session already streaming")
)
