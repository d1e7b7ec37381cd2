package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPairDelivery(t *testing.T) {
	a, b := NewInMemoryPair()

	fromA := make(chan []byte, 1)
	fromB := make(chan []byte, 1)
	a.SetMessageHandler(func(data []byte) { fromB <- data })
	b.SetMessageHandler(func(data []byte) { fromA <- data })

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Close()

	require.NoError(t, a.Send(ctx, []byte("ping")))
	select {
	case got := <-fromA:
		assert.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("message from a never arrived at b")
	}

	require.NoError(t, b.Send(ctx, []byte("pong")))
	select {
	case got := <-fromB:
		assert.Equal(t, "pong", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("message from b never arrived at a")
	}
}

func TestInMemorySendCopiesBuffer(t *testing.T) {
	a, b := NewInMemoryPair()
	defer a.Close()

	received := make(chan []byte, 1)
	b.SetMessageHandler(func(data []byte) { received <- data })

	ctx := context.Background()
	require.NoError(t, b.Start(ctx))

	buf := []byte("original")
	require.NoError(t, a.Send(ctx, buf))
	buf[0] = 'X'

	got := <-received
	assert.Equal(t, "original", string(got))
}

func TestInMemoryCloseClosesBothEnds(t *testing.T) {
	a, b := NewInMemoryPair()

	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a.SetCloseHandler(func() { close(aClosed) })
	b.SetCloseHandler(func() { close(bClosed) })

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	require.NoError(t, a.Close())

	for name, ch := range map[string]chan struct{}{"a": aClosed, "b": bClosed} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("close handler for %s not called", name)
		}
	}

	assert.ErrorIs(t, a.Send(ctx, []byte("late")), ErrTransportClosed)
	assert.ErrorIs(t, b.Send(ctx, []byte("late")), ErrTransportClosed)
}
