package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessionerrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// rawPeer drives one end of a transport pair with hand-built frames, giving
// tests full control over reply order, duplication, and malformed input.
type rawPeer struct {
	t        *testing.T
	tr       *transport.InMemoryTransport
	messages chan *protocol.Message
}

func newRawPeer(t *testing.T, tr *transport.InMemoryTransport) *rawPeer {
	t.Helper()
	p := &rawPeer{
		t:        t,
		tr:       tr,
		messages: make(chan *protocol.Message, 16),
	}
	tr.SetMessageHandler(func(data []byte) {
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		p.messages <- msg
	})
	require.NoError(t, tr.Start(context.Background()))
	return p
}

func (p *rawPeer) next() *protocol.Message {
	p.t.Helper()
	select {
	case msg := <-p.messages:
		return msg
	case <-time.After(2 * time.Second):
		p.t.Fatal("no message from session under test")
		return nil
	}
}

func (p *rawPeer) expectRequest(method string) *protocol.Request {
	p.t.Helper()
	for {
		msg := p.next()
		if msg.Kind == protocol.KindRequest && msg.Request.Method == method {
			return msg.Request
		}
	}
}

func (p *rawPeer) expectNotification(method string) *protocol.Notification {
	p.t.Helper()
	for {
		msg := p.next()
		if msg.Kind == protocol.KindNotification && msg.Notification.Method == method {
			return msg.Notification
		}
	}
}

func (p *rawPeer) expectResponse() *protocol.Response {
	p.t.Helper()
	for {
		msg := p.next()
		if msg.Kind == protocol.KindResponse || msg.Kind == protocol.KindError {
			return msg.Response
		}
	}
}

func (p *rawPeer) send(v interface{}) {
	p.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(p.t, err)
	require.NoError(p.t, p.tr.Send(context.Background(), data))
}

func (p *rawPeer) sendRaw(data string) {
	p.t.Helper()
	require.NoError(p.t, p.tr.Send(context.Background(), []byte(data)))
}

func (p *rawPeer) respondResult(id protocol.RequestID, result interface{}) {
	p.t.Helper()
	resp, err := protocol.NewResponse(id, result)
	require.NoError(p.t, err)
	p.send(resp)
}

func startWithRawPeer(t *testing.T, opts ...Option) (*Session, *rawPeer) {
	t.Helper()
	ta, tb := transport.NewInMemoryPair()

	sess, err := New(ta, nil, append([]Option{
		WithImplementation(protocol.Implementation{Name: "under-test", Version: "0.1.0"}),
	}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { _ = sess.Close() })

	return sess, newRawPeer(t, tb)
}

func TestDuplicateAndStaleRepliesDropped(t *testing.T) {
	sess, peer := startWithRawPeer(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(2*time.Second))
	}()

	req := peer.expectRequest(protocol.MethodPing)

	// First reply settles; the duplicate and the reply for a never-sent id
	// must be dropped without any effect.
	peer.respondResult(req.ID, protocol.PingResult{})
	peer.respondResult(req.ID, protocol.PingResult{})
	peer.respondResult(protocol.NewIntID(9999), protocol.PingResult{})

	require.NoError(t, <-errCh)
	assert.Equal(t, 0, pendingCount(sess))

	// The session still works afterwards.
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(2*time.Second))
	}()
	req = peer.expectRequest(protocol.MethodPing)
	peer.respondResult(req.ID, protocol.PingResult{})
	require.NoError(t, <-errCh)
}

func TestTimeoutEmitsCancelledNotification(t *testing.T) {
	sess, peer := startWithRawPeer(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(100*time.Millisecond))
	}()

	req := peer.expectRequest(protocol.MethodPing)

	err := <-errCh
	require.Error(t, err)
	assert.True(t, sessionerrors.IsKind(err, sessionerrors.KindTimeout))

	notif := peer.expectNotification(protocol.NotificationCancelled)
	var params protocol.CancelledParams
	require.NoError(t, json.Unmarshal(notif.Params, &params))
	assert.Equal(t, req.ID, params.RequestID)

	// A late reply after the timeout is stale and dropped.
	peer.respondResult(req.ID, protocol.PingResult{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pendingCount(sess))
}

func TestResponderRejectsRequestsBeforeHandshake(t *testing.T) {
	_, peer := startWithRawPeer(t, WithRole(RoleResponder))

	// Any non-ping, non-initialize request before initialized is rejected.
	req, err := protocol.NewRequest(protocol.NewIntID(1), "tools/list", nil)
	require.NoError(t, err)
	peer.send(req)

	resp := peer.expectResponse()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidRequest, resp.Error.Code)

	// Ping works before the handshake.
	ping, err := protocol.NewRequest(protocol.NewIntID(2), protocol.MethodPing, nil)
	require.NoError(t, err)
	peer.send(ping)

	resp = peer.expectResponse()
	assert.Nil(t, resp.Error)
}

func TestResponderHandshakeOverWire(t *testing.T) {
	sess, peer := startWithRawPeer(t,
		WithRole(RoleResponder),
		WithProtocolVersions([]string{"2025-03-26", "2024-11-05"}),
	)

	req, err := protocol.NewRequest(protocol.NewIntID(1), protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion:   "2025-06-18",
		SupportedVersions: []string{"2025-06-18", "2025-03-26"},
		ClientInfo:        protocol.Implementation{Name: "raw-initiator", Version: "0.0.1"},
	})
	require.NoError(t, err)
	peer.send(req)

	resp := peer.expectResponse()
	require.Nil(t, resp.Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	// The responder picks the first entry of its own list in the offer.
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)

	notif, err := protocol.NewNotification(protocol.NotificationInitialized, &protocol.InitializedParams{})
	require.NoError(t, err)
	peer.send(notif)

	require.Eventually(t, func() bool {
		return sess.State() == StateInitialized
	}, 2*time.Second, 10*time.Millisecond)

	caps, ok := sess.PeerClientCapabilities()
	require.True(t, ok)
	assert.Nil(t, caps.Roots)
}

func TestResponderRejectsUnsupportedOffer(t *testing.T) {
	sess, peer := startWithRawPeer(t, WithRole(RoleResponder))

	req, err := protocol.NewRequest(protocol.NewIntID(1), protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion: "1999-01-01",
		ClientInfo:      protocol.Implementation{Name: "raw-initiator", Version: "0.0.1"},
	})
	require.NoError(t, err)
	peer.send(req)

	resp := peer.expectResponse()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidRequest, resp.Error.Code)
	assert.NotEqual(t, StateInitialized, sess.State())
}

func TestMalformedMessageWithIDAnsweredWithParseError(t *testing.T) {
	sess, peer := startWithRawPeer(t)

	// Valid JSON, invalid shape, recoverable id: the reply echoes the id.
	peer.sendRaw(`{"jsonrpc":"2.0","id":5}`)

	resp := peer.expectResponse()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ParseError, resp.Error.Code)
	assert.Equal(t, protocol.NewIntID(5), resp.ID)

	// The malformed frame costs nothing but the reply.
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(2*time.Second))
	}()
	req := peer.expectRequest(protocol.MethodPing)
	peer.respondResult(req.ID, protocol.PingResult{})
	require.NoError(t, <-errCh)
}

func TestMalformedMessageWithoutIDDroppedSilently(t *testing.T) {
	sess, peer := startWithRawPeer(t)

	// Neither frame carries a usable id, so neither gets a reply.
	peer.sendRaw(`{"jsonrpc":"2.0",`)
	peer.sendRaw(`{"jsonrpc":"1.0","method":"x"}`)

	// The next frame out of the session must be the ping request, proving
	// the garbage produced no response.
	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(2*time.Second))
	}()
	msg := peer.next()
	require.Equal(t, protocol.KindRequest, msg.Kind)
	assert.Equal(t, protocol.MethodPing, msg.Request.Method)
	peer.respondResult(msg.Request.ID, protocol.PingResult{})
	require.NoError(t, <-errCh)
}

func TestCancelledNotificationForUnknownRequestIsNoOp(t *testing.T) {
	sess, peer := startWithRawPeer(t)

	notif, err := protocol.NewNotification(protocol.NotificationCancelled, &protocol.CancelledParams{
		RequestID: protocol.NewIntID(424242),
		Reason:    "too late",
	})
	require.NoError(t, err)
	peer.send(notif)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Ping(context.Background(), WithTimeout(2*time.Second))
	}()
	req := peer.expectRequest(protocol.MethodPing)
	peer.respondResult(req.ID, protocol.PingResult{})
	require.NoError(t, <-errCh)
}

func TestPeerCancellationSuppressesReply(t *testing.T) {
	registry := NewRegistry()
	handlerDone := make(chan struct{})
	require.NoError(t, registry.RegisterRequestHandler("block", func(ctx context.Context, req *RequestContext) (interface{}, error) {
		<-ctx.Done()
		close(handlerDone)
		return nil, ctx.Err()
	}))

	ta, tb := transport.NewInMemoryPair()
	sess, err := New(ta, registry,
		WithRole(RoleResponder),
		WithImplementation(protocol.Implementation{Name: "under-test", Version: "0.1.0"}),
	)
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { _ = sess.Close() })
	peer := newRawPeer(t, tb)

	// Complete the handshake from the wire.
	initReq, err := protocol.NewRequest(protocol.NewIntID(1), protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion: protocol.LatestProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "raw-initiator", Version: "0.0.1"},
	})
	require.NoError(t, err)
	peer.send(initReq)
	peer.expectResponse()
	initialized, err := protocol.NewNotification(protocol.NotificationInitialized, &protocol.InitializedParams{})
	require.NoError(t, err)
	peer.send(initialized)
	require.Eventually(t, func() bool {
		return sess.State() == StateInitialized
	}, 2*time.Second, 10*time.Millisecond)

	// Start a blocking request, then cancel it from the wire.
	blockReq, err := protocol.NewRequest(protocol.NewIntID(2), "block", nil)
	require.NoError(t, err)
	peer.send(blockReq)

	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return len(sess.inflight) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancelNotif, err := protocol.NewNotification(protocol.NotificationCancelled, &protocol.CancelledParams{
		RequestID: protocol.NewIntID(2),
		Reason:    "caller gave up",
	})
	require.NoError(t, err)
	peer.send(cancelNotif)

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not cancelled by peer notification")
	}

	// The cancelled request gets no reply; the next ping must be answered
	// directly.
	pingReq, err := protocol.NewRequest(protocol.NewIntID(3), protocol.MethodPing, nil)
	require.NoError(t, err)
	peer.send(pingReq)
	resp := peer.expectResponse()
	assert.Equal(t, protocol.NewIntID(3), resp.ID)
	assert.Nil(t, resp.Error)
}
