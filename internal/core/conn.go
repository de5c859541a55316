package core

import "errors"

var ErrBackpressure = errors.New("backpressure")

// ControlConn is the transport endpoint used to push control messages to a
// client. Owned by the adapter; the adapter must Close() it.
type ControlConn interface {
	// TrySend queues b for delivery without blocking. ErrBackpressure
	// means the client's send queue is full; the caller decides whether
	// that costs the client its connection.
	TrySend(b []byte) error
	Close()
}
