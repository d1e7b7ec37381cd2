package transport

import (
	"context"
	"sync"
)

const inMemoryBuffer = 64

// InMemoryTransport is one end of an in-process transport pair. It is used
// by tests and by embedders that run both session peers in one process.
type InMemoryTransport struct {
	peer     *InMemoryTransport
	incoming chan []byte

	mu           sync.RWMutex
	msgHandler   MessageHandler
	closeHandler CloseHandler
	errHandler   ErrorHandler
	started      bool

	done      chan struct{}
	closeOnce sync.Once
	notifyOne sync.Once
}

// NewInMemoryPair creates two connected in-memory transports. Messages sent
// on one end are delivered to the other; closing either end closes both.
func NewInMemoryPair() (*InMemoryTransport, *InMemoryTransport) {
	a := &InMemoryTransport{
		incoming: make(chan []byte, inMemoryBuffer),
		done:     make(chan struct{}),
	}
	b := &InMemoryTransport{
		incoming: make(chan []byte, inMemoryBuffer),
		done:     make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

// SetMessageHandler registers the inbound message callback.
func (t *InMemoryTransport) SetMessageHandler(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgHandler = handler
}

// SetCloseHandler registers the closure callback.
func (t *InMemoryTransport) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler registers the error callback.
func (t *InMemoryTransport) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errHandler = handler
}

// Start launches the delivery pump for this end.
func (t *InMemoryTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = t.Close()
				return
			case <-t.done:
				return
			case data := <-t.incoming:
				t.mu.RLock()
				handler := t.msgHandler
				t.mu.RUnlock()
				if handler != nil {
					handler(data)
				}
			}
		}
	}()

	return nil
}

// Send queues one message for delivery to the peer.
func (t *InMemoryTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Copy so the caller may reuse its buffer.
	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case <-t.done:
		return ErrTransportClosed
	case <-t.peer.done:
		return ErrTransportClosed
	case t.peer.incoming <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down both ends of the pair.
func (t *InMemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.notifyClosed()
		go func() { _ = t.peer.Close() }()
	})
	return nil
}

func (t *InMemoryTransport) notifyClosed() {
	t.notifyOne.Do(func() {
		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
}
