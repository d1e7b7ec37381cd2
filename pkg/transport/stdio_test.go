package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets the test read what the transport wrote without racing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioTransportSend(t *testing.T) {
	out := &syncBuffer{}
	tr := NewStdioTransport(StdioConfig{
		Reader: strings.NewReader(""),
		Writer: out,
	})

	err := tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping"}`))
	require.NoError(t, err)

	assert.Equal(t, `{"jsonrpc":"2.0","method":"ping"}`+"\n", out.String())
}

func TestStdioTransportReceive(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"a"}` + "\n" + `{"jsonrpc":"2.0","id":2,"method":"b"}` + "\n"
	tr := NewStdioTransport(StdioConfig{
		Reader: strings.NewReader(input),
		Writer: io.Discard,
	})

	received := make(chan []byte, 4)
	closed := make(chan struct{})
	tr.SetMessageHandler(func(data []byte) {
		received <- data
	})
	tr.SetCloseHandler(func() {
		close(closed)
	})

	require.NoError(t, tr.Start(context.Background()))

	first := <-received
	assert.Contains(t, string(first), `"method":"a"`)
	second := <-received
	assert.Contains(t, string(second), `"method":"b"`)

	// EOF ends the read loop and fires the close handler.
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called after EOF")
	}
}

func TestStdioTransportClose(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewStdioTransport(StdioConfig{
		Reader: pr,
		Writer: io.Discard,
	})

	var closeCount int
	var mu sync.Mutex
	tr.SetCloseHandler(func() {
		mu.Lock()
		closeCount++
		mu.Unlock()
	})

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close()) // idempotent

	err := tr.Send(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, ErrTransportClosed)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closeCount)
}

func TestStdioTransportStartTwice(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewStdioTransport(StdioConfig{Reader: pr, Writer: io.Discard})
	defer tr.Close()

	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), ErrAlreadyStarted)
}

func TestStdioTransportHandlerPanicContained(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{
		Reader: strings.NewReader("one\ntwo\n"),
		Writer: io.Discard,
	})

	received := make(chan string, 2)
	tr.SetMessageHandler(func(data []byte) {
		if string(data) == "one" {
			panic("handler bug")
		}
		received <- string(data)
	})

	var errCount int
	var mu sync.Mutex
	tr.SetErrorHandler(func(err error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	require.NoError(t, tr.Start(context.Background()))

	// The panic on the first message must not kill delivery of the second.
	select {
	case got := <-received:
		assert.Equal(t, "two", got)
	case <-time.After(2 * time.Second):
		t.Fatal("second message never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, errCount, 1)
}
