package session

import (
	"context"
	"encoding/json"

	sessionerrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/observability"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Initialize performs the one-shot handshake from the initiator side: it
// sends initialize with the full ordered version offer, validates the
// responder's choice against that offer, and confirms with
// notifications/initialized. On failure the session is unusable and the
// caller must Close it.
func (s *Session) Initialize(ctx context.Context, opts ...RequestOption) (*protocol.InitializeResult, error) {
	if s.config.Role != RoleInitiator {
		return nil, sessionerrors.InvalidRequestError("only the initiator performs the handshake")
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, sessionerrors.SessionClosed()
	case StateInitializing, StateInitialized:
		s.mu.Unlock()
		return nil, sessionerrors.InvalidRequestError("handshake already performed")
	}
	s.state = StateInitializing
	s.mu.Unlock()

	offered := s.config.ProtocolVersions
	params := &protocol.InitializeParams{
		ProtocolVersion:   offered[0],
		SupportedVersions: offered,
		Capabilities:      s.config.ClientCapabilities,
		ClientInfo:        s.config.Info,
	}

	raw, err := s.SendRequest(ctx, protocol.MethodInitialize, params, opts...)
	if err != nil {
		s.metrics.RecordHandshake("", observability.OutcomeError)
		// Peer-reported rejections become handshake failures; timeouts,
		// cancellations, and transport errors keep their own kinds.
		if sessionerrors.IsKind(err, sessionerrors.KindProtocol) ||
			sessionerrors.IsKind(err, sessionerrors.KindHandshake) ||
			sessionerrors.IsKind(err, sessionerrors.KindHandler) {
			return nil, sessionerrors.HandshakeFailed(err.Error(), offered, nil)
		}
		return nil, err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.metrics.RecordHandshake("", observability.OutcomeError)
		return nil, sessionerrors.HandshakeFailed("malformed initialize result: "+err.Error(), offered, nil)
	}

	accepted := false
	for _, v := range offered {
		if v == result.ProtocolVersion {
			accepted = true
			break
		}
	}
	if !accepted {
		s.metrics.RecordHandshake(result.ProtocolVersion, observability.OutcomeError)
		return nil, sessionerrors.HandshakeFailed(
			"responder chose a version outside the offer: "+result.ProtocolVersion,
			offered, []string{result.ProtocolVersion})
	}

	s.mu.Lock()
	s.negotiatedVersion = result.ProtocolVersion
	s.peerInfo = result.ServerInfo
	caps := result.Capabilities
	s.peerServerCaps = &caps
	s.mu.Unlock()

	if err := s.SendNotification(ctx, protocol.NotificationInitialized, &protocol.InitializedParams{}); err != nil {
		s.metrics.RecordHandshake(result.ProtocolVersion, observability.OutcomeError)
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateInitializing {
		s.state = StateInitialized
	}
	s.mu.Unlock()

	s.metrics.RecordHandshake(result.ProtocolVersion, observability.OutcomeSuccess)
	s.logger.Info("handshake complete",
		logging.String("protocol_version", result.ProtocolVersion),
		logging.String("peer", result.ServerInfo.Name))
	return &result, nil
}

// handleInitialize answers the handshake on the responder side. The
// responder picks the first entry of its own preference list present in the
// initiator's offer.
func (s *Session) handleInitialize(req *protocol.Request) {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.respondError(req.ID, sessionerrors.InvalidParamsError(protocol.MethodInitialize, err.Error()))
		return
	}

	offered := params.OfferedVersions()
	version, ok := protocol.NegotiateVersion(s.config.ProtocolVersions, offered)
	if !ok {
		s.metrics.RecordHandshake("", observability.OutcomeError)
		s.logger.Warn("handshake failed: no mutually supported version",
			logging.Any("offered", offered))
		s.respondError(req.ID, sessionerrors.HandshakeFailed(
			"no mutually supported protocol version", offered, s.config.ProtocolVersions))
		return
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		st := s.state
		s.mu.Unlock()
		s.respondError(req.ID, sessionerrors.InvalidRequestError("initialize received while session is "+st.String()))
		return
	}
	s.state = StateInitializing
	s.negotiatedVersion = version
	s.peerInfo = params.ClientInfo
	caps := params.Capabilities
	s.peerClientCaps = &caps
	s.mu.Unlock()

	s.metrics.RecordHandshake(version, observability.OutcomeSuccess)
	s.logger.Info("handshake negotiated",
		logging.String("protocol_version", version),
		logging.String("peer", params.ClientInfo.Name))

	s.respondResult(req.ID, &protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.config.ServerCapabilities,
		ServerInfo:      s.config.Info,
		Instructions:    s.config.Instructions,
	})
}

// handleInitialized finishes the handshake on the responder side.
func (s *Session) handleInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitializing {
		s.logger.Debug("unexpected initialized notification",
			logging.String("state", s.state.String()))
		return
	}
	s.state = StateInitialized
}

// NegotiatedVersion returns the protocol revision agreed during the
// handshake, empty before completion.
func (s *Session) NegotiatedVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiatedVersion
}

// PeerInfo returns the peer's implementation details once the handshake has
// negotiated them.
func (s *Session) PeerInfo() (protocol.Implementation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerInfo, s.negotiatedVersion != ""
}

// PeerClientCapabilities returns a copy of the capability tree the
// initiator offered. Only meaningful on the responder.
func (s *Session) PeerClientCapabilities() (protocol.ClientCapabilities, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerClientCaps == nil {
		return protocol.ClientCapabilities{}, false
	}
	return *s.peerClientCaps, true
}

// PeerServerCapabilities returns a copy of the capability tree the
// responder advertised. Only meaningful on the initiator.
func (s *Session) PeerServerCapabilities() (protocol.ServerCapabilities, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerServerCaps == nil {
		return protocol.ServerCapabilities{}, false
	}
	return *s.peerServerCaps, true
}
