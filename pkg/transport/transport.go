// Package transport defines the duplex message channel consumed by the
// session engine, plus the stdio and in-memory implementations.
//
// A Transport carries opaque byte payloads (one serialized JSON-RPC message
// each) and reports inbound traffic, closure, and fatal errors through
// callbacks registered before Start. The engine is transport-agnostic: it
// never sees framing, sockets, or pipes.
package transport

import (
	"context"
	"errors"
)

// MessageHandler receives one complete inbound message. It must not block;
// the session engine guarantees constant-time dispatch on this path.
type MessageHandler func(data []byte)

// CloseHandler is invoked exactly once when the transport stops delivering
// messages, whether by local Close or remote disconnect.
type CloseHandler func()

// ErrorHandler receives transport-level failures. Fatal failures are
// followed by the close callback.
type ErrorHandler func(err error)

// Transport is an opaque duplex channel between two session peers.
type Transport interface {
	// Start begins delivering inbound messages to the registered message
	// handler. It returns once the transport is running; delivery happens
	// on transport-owned goroutines.
	Start(ctx context.Context) error

	// Send transmits one serialized message to the peer.
	Send(ctx context.Context, data []byte) error

	// Close stops the transport and releases its resources. Safe to call
	// more than once.
	Close() error

	// SetMessageHandler registers the inbound message callback. Must be
	// called before Start.
	SetMessageHandler(handler MessageHandler)

	// SetCloseHandler registers the closure callback.
	SetCloseHandler(handler CloseHandler)

	// SetErrorHandler registers the error callback.
	SetErrorHandler(handler ErrorHandler)
}

// Errors
var (
	ErrTransportClosed     = errors.New("transport is closed")
	ErrTransportNotStarted = errors.New("transport has not been started")
	ErrAlreadyStarted      = errors.New("transport already started")
)
