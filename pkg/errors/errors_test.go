package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

func TestKindForCode(t *testing.T) {
	tests := []struct {
		code protocol.ErrorCode
		want Kind
	}{
		{protocol.ParseError, KindProtocol},
		{protocol.InvalidRequest, KindProtocol},
		{protocol.MethodNotFound, KindProtocol},
		{protocol.InvalidParams, KindProtocol},
		{protocol.InternalError, KindProtocol},
		{protocol.ConnectionClosed, KindTransportClosed},
		{protocol.RequestTimeout, KindTimeout},
		{protocol.RequestCancelled, KindCancelled},
		{protocol.ErrorCode(-32099), KindProtocol}, // implementation-defined range
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForCode(tt.code))
		})
	}
}

func TestFactoryErrors(t *testing.T) {
	id := protocol.NewIntID(5)

	timeout := RequestTimeout(id, "tools/call", 2*time.Second)
	assert.Equal(t, KindTimeout, timeout.Kind())
	assert.Equal(t, protocol.RequestTimeout, timeout.Code())
	assert.Contains(t, timeout.Error(), "timed out")

	cancelled := RequestCancelled(id, "caller gave up")
	assert.Equal(t, KindCancelled, cancelled.Kind())
	assert.Equal(t, protocol.RequestCancelled, cancelled.Code())

	byPeer := RequestCancelledByPeer(id, "")
	assert.Equal(t, KindCancelled, byPeer.Kind())
	data, ok := byPeer.Data().(*CancelledErrorData)
	require.True(t, ok)
	assert.True(t, data.ByPeer)

	handshake := HandshakeFailed("no common version", []string{"1999-01-01"}, []string{"2025-06-18"})
	assert.Equal(t, KindHandshake, handshake.Kind())

	closed := TransportClosed(errors.New("broken pipe"))
	assert.Equal(t, KindTransportClosed, closed.Kind())
	assert.Equal(t, protocol.ConnectionClosed, closed.Code())

	notFound := MethodNotFoundError("nope/nothing")
	assert.Equal(t, protocol.MethodNotFound, notFound.Code())
	assert.Contains(t, notFound.Error(), "nope/nothing")

	panicked := HandlerPanicked("tools/call", "boom")
	assert.Equal(t, KindHandler, panicked.Kind())
	assert.Equal(t, protocol.InternalError, panicked.Code())
}

func TestWithDetailAndData(t *testing.T) {
	base := New(KindProtocol, protocol.InvalidRequest, "invalid request")
	detailed := base.WithDetail("missing method")

	// Original is untouched.
	assert.Equal(t, "invalid request", base.Error())
	assert.Equal(t, "invalid request: missing method", detailed.Error())

	withData := base.WithData(map[string]string{"field": "method"})
	assert.NotNil(t, withData.Data())
	assert.Nil(t, base.Data())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(cause, KindTransportClosed, protocol.ConnectionClosed, "transport closed")

	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestAsSessionError(t *testing.T) {
	se := SessionClosed()
	wrapped := fmt.Errorf("outer: %w", se)

	got, ok := AsSessionError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTransportClosed, got.Kind())

	_, ok = AsSessionError(errors.New("plain"))
	assert.False(t, ok)

	_, ok = AsSessionError(nil)
	assert.False(t, ok)
}

func TestIsKindAndIsCode(t *testing.T) {
	err := RequestTimeout(protocol.NewIntID(1), "ping", time.Second)

	assert.True(t, IsKind(err, KindTimeout))
	assert.False(t, IsKind(err, KindCancelled))
	assert.True(t, IsCode(err, protocol.RequestTimeout))
	assert.False(t, IsKind(errors.New("plain"), KindTimeout))
}

func TestToJSONRPCError(t *testing.T) {
	se := MethodNotFoundError("missing")
	rpcErr := ToJSONRPCError(se)
	require.NotNil(t, rpcErr)
	assert.Equal(t, protocol.MethodNotFound, rpcErr.Code)

	plain := ToJSONRPCError(errors.New("something broke"))
	require.NotNil(t, plain)
	assert.Equal(t, protocol.InternalError, plain.Code)
	assert.Equal(t, "something broke", plain.Message)

	assert.Nil(t, ToJSONRPCError(nil))
}

func TestFromJSONRPCError(t *testing.T) {
	se := FromJSONRPCError(&protocol.Error{
		Code:    protocol.RequestCancelled,
		Message: "cancelled by peer",
	})
	require.NotNil(t, se)
	assert.Equal(t, KindCancelled, se.Kind())
	assert.Equal(t, "cancelled by peer", se.Message())

	assert.Nil(t, FromJSONRPCError(nil))
}

func TestFromContextError(t *testing.T) {
	id := protocol.NewIntID(2)

	deadline := FromContextError(context.DeadlineExceeded, id, "tools/call")
	assert.Equal(t, KindTimeout, deadline.Kind())

	cancelled := FromContextError(context.Canceled, id, "tools/call")
	assert.Equal(t, KindCancelled, cancelled.Kind())
}
