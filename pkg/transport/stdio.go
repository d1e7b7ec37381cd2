package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

// StdioConfig configures a stdio transport. Zero values mean os.Stdin and
// os.Stdout; custom readers and writers are primarily for tests.
type StdioConfig struct {
	Reader io.Reader
	Writer io.Writer
	Logger logging.Logger
}

// StdioTransport carries newline-delimited JSON messages over a byte
// stream, the recommended channel for command-line peers connected via
// pipes.
type StdioTransport struct {
	reader    io.Reader
	rawWriter *bufio.Writer
	logger    logging.Logger

	mu           sync.RWMutex // protects handlers and writer
	msgHandler   MessageHandler
	closeHandler CloseHandler
	errHandler   ErrorHandler
	started      bool

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewStdioTransport creates a stdio transport from config.
func NewStdioTransport(config StdioConfig) *StdioTransport {
	reader := config.Reader
	writer := config.Writer
	logger := config.Logger

	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &StdioTransport{
		reader:    reader,
		rawWriter: bufio.NewWriter(writer),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// SetMessageHandler registers the inbound message callback.
func (t *StdioTransport) SetMessageHandler(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgHandler = handler
}

// SetCloseHandler registers the closure callback.
func (t *StdioTransport) SetCloseHandler(handler CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler registers the error callback.
func (t *StdioTransport) SetErrorHandler(handler ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errHandler = handler
}

// Start launches the read loop. It returns immediately; inbound messages
// are delivered on a transport-owned goroutine until EOF, a read error, or
// Close.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	scanner := bufio.NewScanner(t.reader)
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
				line := scanner.Bytes()
				// Copy: the scanner reuses its buffer on the next Scan.
				data := make([]byte, len(line))
				copy(data, line)
				t.deliver(data)
			}
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.done:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	go func() {
		if err := g.Wait(); err != nil && err != context.Canceled {
			t.handleError(err)
		}
		t.notifyClosed()
	}()

	return nil
}

// Send writes one message followed by a newline and flushes.
func (t *StdioTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.rawWriter.Write(data); err != nil {
		return fmt.Errorf("stdio write: %w", err)
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return fmt.Errorf("stdio write newline: %w", err)
	}
	if err := t.rawWriter.Flush(); err != nil {
		return fmt.Errorf("stdio flush: %w", err)
	}
	return nil
}

// Close halts the transport and flushes any buffered output.
func (t *StdioTransport) Close() error {
	var flushErr error

	t.stopOnce.Do(func() {
		close(t.done)
		t.closeReader()

		t.mu.Lock()
		flushErr = t.rawWriter.Flush()
		t.mu.Unlock()

		t.notifyClosed()
	})

	if flushErr != nil {
		return fmt.Errorf("stdio flush on close: %w", flushErr)
	}
	return nil
}

// deliver hands one message to the registered handler with panic recovery,
// so a faulty handler cannot kill the read loop.
func (t *StdioTransport) deliver(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in message handler",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			t.handleError(fmt.Errorf("panic processing message: %v", r))
		}
	}()

	t.mu.RLock()
	handler := t.msgHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(data)
	} else {
		t.logger.Warn("inbound message dropped: no handler registered")
	}
}

func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close() // unblocks scanner.Scan
	}
}

func (t *StdioTransport) handleError(err error) {
	t.mu.RLock()
	handler := t.errHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
}

func (t *StdioTransport) notifyClosed() {
	t.closeOnce.Do(func() {
		t.mu.RLock()
		handler := t.closeHandler
		t.mu.RUnlock()

		if handler != nil {
			handler()
		}
	})
}
