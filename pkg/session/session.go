// Package session implements the JSON-RPC session engine: request ID
// allocation, pending-request correlation, per-request timeouts, cooperative
// cancellation, asynchronous dispatch, and the initialize handshake. One
// Session owns one transport; either peer may originate requests once the
// handshake completes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	sessionerrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/observability"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// State tracks the session lifecycle. Transitions only move forward:
// Uninitialized -> Initializing -> Initialized -> Closed.
type State int

const (
	// StateUninitialized is the state before the handshake begins.
	StateUninitialized State = iota
	// StateInitializing means the initialize exchange is in flight.
	StateInitializing
	// StateInitialized means the handshake completed and normal traffic
	// may flow.
	StateInitialized
	// StateClosed is terminal.
	StateClosed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// settlement is the terminal value of one outbound request. Exactly one is
// written per pendingRequest.
type settlement struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one outbound request awaiting settlement.
type pendingRequest struct {
	id            protocol.RequestID
	method        string
	sentAt        time.Time
	timer         *time.Timer
	settle        chan settlement // buffered, capacity 1
	progressToken *protocol.ProgressToken
}

// Session is the protocol engine for one transport connection.
type Session struct {
	id       string
	config   Config
	trans    transport.Transport
	registry *Registry
	logger   logging.Logger
	metrics  observability.SessionMetrics

	nextID atomic.Int64

	mu       sync.Mutex
	state    State
	pending  map[protocol.RequestID]*pendingRequest
	inflight map[protocol.RequestID]context.CancelFunc
	progress map[protocol.ProgressToken]ProgressHandler

	// Frozen once the handshake completes.
	negotiatedVersion string
	peerInfo          protocol.Implementation
	peerClientCaps    *protocol.ClientCapabilities
	peerServerCaps    *protocol.ServerCapabilities
}

// New creates a session over the given transport. The registry may be nil
// when the session only originates requests.
func New(t transport.Transport, registry *Registry, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, sessionerrors.InvalidRequestError("session requires a transport")
	}

	config := Config{
		Role:             RoleInitiator,
		DefaultTimeout:   DefaultRequestTimeout,
		ProtocolVersions: protocol.SupportedProtocolVersions,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultRequestTimeout
	}
	if len(config.ProtocolVersions) == 0 {
		config.ProtocolVersions = protocol.SupportedProtocolVersions
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = observability.NopMetrics{}
	}
	if registry == nil {
		registry = NewRegistry()
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		config:   config,
		trans:    t,
		registry: registry,
		logger: config.Logger.WithFields(
			logging.String("session_id", id[:8]),
			logging.String("role", config.Role.String()),
		),
		metrics:  config.Metrics,
		state:    StateUninitialized,
		pending:  make(map[protocol.RequestID]*pendingRequest),
		inflight: make(map[protocol.RequestID]context.CancelFunc),
		progress: make(map[protocol.ProgressToken]ProgressHandler),
	}

	t.SetMessageHandler(s.HandleMessage)
	t.SetCloseHandler(s.handleTransportClose)
	t.SetErrorHandler(s.handleTransportError)

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the transport read loop. It does not perform the
// handshake; initiators call Initialize afterwards.
func (s *Session) Start(ctx context.Context) error {
	return s.trans.Start(ctx)
}

// Close shuts down the transport and settles every pending request with a
// transport-closed error. It is safe to call more than once.
func (s *Session) Close() error {
	err := s.trans.Close()
	s.shutdown(nil)
	return err
}

// SendRequest sends a request and blocks until it settles: a response or
// error arrives, the deadline expires, ctx is cancelled, or the transport
// closes. Each outcome is terminal and occurs exactly once.
func (s *Session) SendRequest(ctx context.Context, method string, params interface{}, opts ...RequestOption) (json.RawMessage, error) {
	ro := requestOptions{timeout: s.config.DefaultTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	timeout := ro.timeout
	if ro.noTimeout {
		timeout = 0
	}

	req, err := protocol.NewRequest(protocol.NewIntID(s.nextID.Add(1)), method, params)
	if err != nil {
		return nil, sessionerrors.InvalidParamsError(method, err.Error())
	}
	id := req.ID

	var progressToken *protocol.ProgressToken
	if ro.onProgress != nil {
		token := protocol.NewStringID(uuid.NewString())
		req.Params, err = protocol.WithProgressToken(req.Params, token)
		if err != nil {
			return nil, sessionerrors.InvalidParamsError(method, err.Error())
		}
		progressToken = &token
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, sessionerrors.InvalidParamsError(method, err.Error())
	}

	pr := &pendingRequest{
		id:            id,
		method:        method,
		sentAt:        time.Now(),
		settle:        make(chan settlement, 1),
		progressToken: progressToken,
	}

	// Register before sending so a fast reply always finds the entry. The
	// timer is armed here too: settlement stops it under the same lock.
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, sessionerrors.SessionClosed()
	}
	if method != protocol.MethodInitialize && method != protocol.MethodPing && s.state != StateInitialized {
		st := s.state
		s.mu.Unlock()
		return nil, sessionerrors.InvalidRequestError("cannot send " + method + " while session is " + st.String())
	}
	s.pending[id] = pr
	if progressToken != nil {
		s.progress[*progressToken] = ro.onProgress
	}
	if timeout > 0 {
		prTimeout := timeout
		pr.timer = time.AfterFunc(prTimeout, func() {
			s.settleTimeout(id, method, prTimeout)
		})
	}
	// Incremented under the lock: a reply can only decrement after the
	// entry is visible, so the gauge never dips below zero.
	s.metrics.PendingRequestsInc()
	s.mu.Unlock()

	if s.config.Tracing != nil {
		var span trace.Span
		ctx, span = s.config.Tracing.StartRequestSpan(ctx, method, trace.SpanKindClient)
		defer span.End()
	}

	if err := s.trans.Send(ctx, data); err != nil {
		if s.unregister(id) {
			s.metrics.PendingRequestsDec()
		}
		sendErr := sessionerrors.TransportClosed(err).WithDetail("failed to send " + method)
		s.metrics.RecordRequest(method, outcomeFor(sendErr), time.Since(pr.sentAt))
		return nil, sendErr
	}

	s.logger.Debug("request sent",
		logging.String("method", method),
		logging.String("request_id", id.String()))

	var st settlement
	select {
	case st = <-pr.settle:
	case <-ctx.Done():
		cancelErr := sessionerrors.FromContextError(ctx.Err(), id, method)
		if s.settle(id, nil, cancelErr) {
			s.metrics.RecordCancellation(observability.OriginCaller)
			s.notifyCancelled(id, "caller cancelled")
		}
		// The winning settlement is buffered either way.
		st = <-pr.settle
	}

	outcome := outcomeFor(st.err)
	s.metrics.RecordRequest(method, outcome, time.Since(pr.sentAt))
	if st.err != nil && s.config.Tracing != nil {
		s.config.Tracing.RecordError(ctx, st.err)
	}
	return st.result, st.err
}

// SendNotification sends a fire-and-forget notification. Notifications
// carry no ID and never settle anything.
func (s *Session) SendNotification(ctx context.Context, method string, params interface{}) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return sessionerrors.SessionClosed()
	}
	if s.state != StateInitialized &&
		method != protocol.NotificationInitialized &&
		method != protocol.NotificationCancelled {
		st := s.state
		s.mu.Unlock()
		return sessionerrors.InvalidRequestError("cannot send " + method + " while session is " + st.String())
	}
	s.mu.Unlock()

	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return sessionerrors.InvalidParamsError(method, err.Error())
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return sessionerrors.InvalidParamsError(method, err.Error())
	}

	if err := s.trans.Send(ctx, data); err != nil {
		return sessionerrors.TransportClosed(err).WithDetail("failed to send " + method)
	}
	s.metrics.RecordNotificationSent(method)
	return nil
}

// Ping sends a ping request and waits for the empty reply. Ping is legal in
// any non-closed state.
func (s *Session) Ping(ctx context.Context, opts ...RequestOption) error {
	_, err := s.SendRequest(ctx, protocol.MethodPing, nil, opts...)
	return err
}

// HandleMessage classifies one raw inbound message and acts on it. It never
// blocks: handler work is scheduled on fresh goroutines, and replies for
// pending requests reduce to a map lookup and a buffered channel send.
func (s *Session) HandleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		// A malformed frame that carried a usable id gets a parse-error
		// reply addressed to it; id-less garbage is dropped silently.
		var pe *protocol.MessageParseError
		if errors.As(err, &pe) && pe.ID.IsValid() {
			s.logger.Debug("answering malformed message",
				logging.String("request_id", pe.ID.String()),
				logging.ErrorField(err))
			go s.respondError(pe.ID, sessionerrors.ParseErrorf("%v", err))
			return
		}
		s.logger.Debug("dropping malformed message", logging.ErrorField(err))
		return
	}

	switch msg.Kind {
	case protocol.KindResponse:
		s.handleResponse(msg.Response.ID, msg.Response.Result, nil)
	case protocol.KindError:
		s.handleResponse(msg.Response.ID, nil, sessionerrors.FromJSONRPCError(msg.Response.Error))
	case protocol.KindRequest:
		s.handleRequest(msg.Request)
	case protocol.KindNotification:
		s.handleNotification(msg.Notification)
	}
}

// handleResponse settles the matching pending request. Replies whose ID is
// unknown (stale after timeout/cancel, or duplicate) are dropped silently.
func (s *Session) handleResponse(id protocol.RequestID, result json.RawMessage, err error) {
	if !s.settle(id, result, err) {
		s.logger.Debug("dropping stale or duplicate reply",
			logging.String("request_id", id.String()))
	}
}

// settle removes the pending entry for id and delivers the terminal value.
// It reports false when no entry exists, which makes every competing
// settlement path (reply, timeout, cancel, closure) race-safe: the map
// deletion under the lock picks exactly one winner.
func (s *Session) settle(id protocol.RequestID, result json.RawMessage, err error) bool {
	s.mu.Lock()
	pr, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, id)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	if pr.progressToken != nil {
		delete(s.progress, *pr.progressToken)
	}
	s.mu.Unlock()

	s.metrics.PendingRequestsDec()
	pr.settle <- settlement{result: result, err: err}
	return true
}

// unregister removes a pending entry without settling it. Used when the
// send itself failed and the caller reports the error directly.
func (s *Session) unregister(id protocol.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	if pr.progressToken != nil {
		delete(s.progress, *pr.progressToken)
	}
	return true
}

// settleTimeout runs on the timer goroutine when a request's deadline
// expires.
func (s *Session) settleTimeout(id protocol.RequestID, method string, timeout time.Duration) {
	if !s.settle(id, nil, sessionerrors.RequestTimeout(id, method, timeout)) {
		return
	}
	s.metrics.RecordTimeout(method)
	s.logger.Warn("request timed out",
		logging.String("method", method),
		logging.String("request_id", id.String()),
		logging.Duration("timeout", timeout))
	s.notifyCancelled(id, "timeout")
}

// notifyCancelled emits a best-effort notifications/cancelled for id. The
// local settlement already happened; a send failure only costs the peer a
// hint.
func (s *Session) notifyCancelled(id protocol.RequestID, reason string) {
	notif, err := protocol.NewNotification(protocol.NotificationCancelled, &protocol.CancelledParams{
		RequestID: id,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.trans.Send(ctx, data); err != nil {
		s.logger.Debug("failed to send cancelled notification",
			logging.String("request_id", id.String()),
			logging.ErrorField(err))
		return
	}
	s.metrics.RecordNotificationSent(protocol.NotificationCancelled)
}

// handleRequest validates one inbound request and schedules its handler.
func (s *Session) handleRequest(req *protocol.Request) {
	if !req.ID.IsValid() {
		go s.respondError(req.ID, sessionerrors.InvalidRequestError("request id must be a string or integer"))
		return
	}

	switch req.Method {
	case protocol.MethodPing:
		// Ping is answered in any non-closed state, before and after the
		// handshake.
		go s.respondResult(req.ID, protocol.PingResult{})
		return
	case protocol.MethodInitialize:
		if s.config.Role != RoleResponder {
			go s.respondError(req.ID, sessionerrors.InvalidRequestError("initialize is only handled by the responder"))
			return
		}
		go s.handleInitialize(req)
		return
	}

	s.mu.Lock()
	if s.state != StateInitialized {
		st := s.state
		s.mu.Unlock()
		go s.respondError(req.ID, sessionerrors.InvalidRequestError("session is "+st.String()))
		return
	}
	if _, dup := s.inflight[req.ID]; dup {
		s.mu.Unlock()
		go s.respondError(req.ID, sessionerrors.InvalidRequestError("duplicate request id "+req.ID.String()))
		return
	}
	hctx, cancel := context.WithCancel(context.Background())
	s.inflight[req.ID] = cancel
	s.mu.Unlock()

	go s.dispatchRequest(hctx, req)
}

// dispatchRequest runs one inbound request handler with panic recovery. A
// handler failure or panic is contained to this request.
func (s *Session) dispatchRequest(ctx context.Context, req *protocol.Request) {
	start := time.Now()
	outcome := observability.OutcomeSuccess

	defer func() {
		if r := recover(); r != nil {
			outcome = observability.OutcomeError
			s.logger.Error("handler panic",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			s.respondError(req.ID, sessionerrors.HandlerPanicked(req.Method, r))
		}
		s.finishInbound(req.ID)
		s.metrics.RecordInboundRequest(req.Method, outcome, time.Since(start))
	}()

	if s.config.Tracing != nil {
		var span trace.Span
		ctx, span = s.config.Tracing.StartRequestSpan(ctx, req.Method, trace.SpanKindServer)
		defer span.End()
	}

	rc := &RequestContext{
		ID:      req.ID,
		Method:  req.Method,
		Params:  req.Params,
		session: s,
	}
	if token, ok := protocol.ProgressTokenFromParams(req.Params); ok {
		rc.progressToken = &token
	}

	if s.config.Verifier != nil {
		info, err := s.config.Verifier.VerifyAccessToken(ctx, accessTokenFromParams(req.Params))
		if err != nil {
			outcome = observability.OutcomeError
			s.respondError(req.ID, sessionerrors.InvalidRequestError("unauthorized: "+err.Error()))
			return
		}
		rc.Token = info
	}

	handler, ok := s.registry.requestHandler(req.Method)
	if !ok {
		outcome = observability.OutcomeError
		s.respondError(req.ID, sessionerrors.MethodNotFoundError(req.Method))
		return
	}

	result, err := handler(ctx, rc)

	if ctx.Err() != nil {
		// The peer cancelled this request; it no longer expects a reply.
		outcome = observability.OutcomeCancelled
		s.logger.Debug("suppressing reply for cancelled request",
			logging.String("method", req.Method),
			logging.String("request_id", req.ID.String()))
		return
	}
	if err != nil {
		outcome = observability.OutcomeError
		if se, ok := sessionerrors.AsSessionError(err); ok {
			s.respondError(req.ID, se)
		} else {
			s.respondError(req.ID, sessionerrors.HandlerFailed(req.Method, err))
		}
		return
	}
	s.respondResult(req.ID, result)
}

// finishInbound removes the in-flight entry for id and releases its cancel
// context.
func (s *Session) finishInbound(id protocol.RequestID) {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// handleNotification routes one inbound notification. Lifecycle
// notifications are built in; everything else fans out to the registry.
func (s *Session) handleNotification(notif *protocol.Notification) {
	s.metrics.RecordInboundNotification(notif.Method)

	switch notif.Method {
	case protocol.NotificationInitialized:
		s.handleInitialized()
		return
	case protocol.NotificationCancelled:
		s.handleCancelled(notif.Params)
		return
	case protocol.NotificationProgress:
		s.handleProgress(notif.Params)
		return
	}

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateInitialized {
		s.logger.Debug("dropping notification before handshake",
			logging.String("method", notif.Method))
		return
	}

	handlers := s.registry.notificationHandlers(notif.Method)
	if len(handlers) == 0 {
		s.logger.Debug("no handler for notification", logging.String("method", notif.Method))
		return
	}
	for _, handler := range handlers {
		h := handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("notification handler panic",
						logging.String("method", notif.Method),
						logging.Any("panic", r))
				}
			}()
			h(context.Background(), notif.Params)
		}()
	}
}

// handleCancelled flips the cancel context of the matching in-flight
// inbound request. Cancellation of an unknown or completed request is a
// no-op.
func (s *Session) handleCancelled(params json.RawMessage) {
	var cp protocol.CancelledParams
	if err := json.Unmarshal(params, &cp); err != nil {
		s.logger.Debug("malformed cancelled notification", logging.ErrorField(err))
		return
	}

	s.mu.Lock()
	cancel, ok := s.inflight[cp.RequestID]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("cancellation for unknown request",
			logging.String("request_id", cp.RequestID.String()))
		return
	}
	s.logger.Debug("peer cancelled request",
		logging.String("request_id", cp.RequestID.String()),
		logging.String("reason", cp.Reason))
	s.metrics.RecordCancellation(observability.OriginPeer)
	cancel()
}

// handleProgress routes a progress notification by token. Tokens for
// settled requests are ignored.
func (s *Session) handleProgress(params json.RawMessage) {
	var pp protocol.ProgressParams
	if err := json.Unmarshal(params, &pp); err != nil {
		s.logger.Debug("malformed progress notification", logging.ErrorField(err))
		return
	}

	s.mu.Lock()
	handler, ok := s.progress[pp.ProgressToken]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("progress for unknown token",
			logging.String("progress_token", pp.ProgressToken.String()))
		return
	}
	go handler(pp)
}

// respondResult sends a success response. Best effort: a failed reply is
// logged but does not tear down the session.
func (s *Session) respondResult(id protocol.RequestID, result interface{}) {
	resp, err := protocol.NewResponse(id, result)
	if err != nil {
		s.respondError(id, sessionerrors.HandlerFailed("", err))
		return
	}
	s.sendResponse(resp)
}

// respondError sends an error response.
func (s *Session) respondError(id protocol.RequestID, cause error) {
	resp, err := sessionerrors.ToJSONRPCResponse(cause, id)
	if err != nil {
		s.logger.Error("failed to build error response", logging.ErrorField(err))
		return
	}
	s.sendResponse(resp)
}

func (s *Session) sendResponse(resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", logging.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.trans.Send(ctx, data); err != nil {
		s.logger.Warn("failed to send response",
			logging.String("request_id", resp.ID.String()),
			logging.ErrorField(err))
	}
}

// handleTransportClose runs when the transport reports closure.
func (s *Session) handleTransportClose() {
	s.shutdown(transport.ErrTransportClosed)
}

func (s *Session) handleTransportError(err error) {
	s.logger.Error("transport error", logging.ErrorField(err))
}

// shutdown moves the session to Closed, settles every pending request with
// a transport-closed error, and cancels in-flight inbound handlers. It is
// idempotent.
func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	orphans := s.pending
	s.pending = make(map[protocol.RequestID]*pendingRequest)
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, cancel := range s.inflight {
		cancels = append(cancels, cancel)
	}
	s.inflight = make(map[protocol.RequestID]context.CancelFunc)
	s.progress = make(map[protocol.ProgressToken]ProgressHandler)
	s.mu.Unlock()

	for _, pr := range orphans {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		s.metrics.PendingRequestsDec()
		pr.settle <- settlement{err: sessionerrors.TransportClosed(cause)}
	}
	for _, cancel := range cancels {
		cancel()
	}

	if len(orphans) > 0 {
		s.logger.Info("session closed with requests outstanding",
			logging.Int("orphaned", len(orphans)))
	} else {
		s.logger.Debug("session closed")
	}
}

// outcomeFor maps a settlement error to its metrics label.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case sessionerrors.IsKind(err, sessionerrors.KindTimeout):
		return observability.OutcomeTimeout
	case sessionerrors.IsKind(err, sessionerrors.KindCancelled):
		return observability.OutcomeCancelled
	case sessionerrors.IsKind(err, sessionerrors.KindTransportClosed):
		return observability.OutcomeClosed
	default:
		return observability.OutcomeError
	}
}

// accessTokenFromParams pulls the access token out of the reserved _meta
// member of request params. Absence yields the empty string, which the
// verifier rejects.
func accessTokenFromParams(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var wrapper struct {
		Meta struct {
			AccessToken string `json:"accessToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &wrapper); err != nil {
		return ""
	}
	return wrapper.Meta.AccessToken
}
