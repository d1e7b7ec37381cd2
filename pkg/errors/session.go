package errors

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// TimeoutErrorData contains structured data for request timeouts
type TimeoutErrorData struct {
	RequestID string        `json:"request_id"`
	Method    string        `json:"method,omitempty"`
	Timeout   time.Duration `json:"timeout"`
}

// CancelledErrorData contains structured data for cancelled requests
type CancelledErrorData struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
	ByPeer    bool   `json:"by_peer"`
}

// HandshakeErrorData contains structured data for handshake failures
type HandshakeErrorData struct {
	Offered   []string `json:"offered,omitempty"`
	Supported []string `json:"supported,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// RequestTimeout creates an error for a request that missed its deadline.
func RequestTimeout(id protocol.RequestID, method string, timeout time.Duration) SessionError {
	return New(
		KindTimeout,
		protocol.RequestTimeout,
		fmt.Sprintf("request %s (%s) timed out after %s", id, method, timeout),
	).WithData(&TimeoutErrorData{
		RequestID: id.String(),
		Method:    method,
		Timeout:   timeout,
	}).WithContext(&Context{
		RequestID: id.String(),
		Method:    method,
		Timestamp: time.Now(),
	})
}

// RequestCancelled creates an error for a locally cancelled request.
func RequestCancelled(id protocol.RequestID, reason string) SessionError {
	msg := fmt.Sprintf("request %s was cancelled", id)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(KindCancelled, protocol.RequestCancelled, msg).
		WithData(&CancelledErrorData{
			RequestID: id.String(),
			Reason:    reason,
		})
}

// RequestCancelledByPeer creates an error for a request the peer cancelled.
func RequestCancelledByPeer(id protocol.RequestID, reason string) SessionError {
	msg := fmt.Sprintf("request %s was cancelled by peer", id)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	return New(KindCancelled, protocol.RequestCancelled, msg).
		WithData(&CancelledErrorData{
			RequestID: id.String(),
			Reason:    reason,
			ByPeer:    true,
		})
}

// HandshakeFailed creates an error for version negotiation failures.
func HandshakeFailed(reason string, offered, supported []string) SessionError {
	return New(
		KindHandshake,
		protocol.InvalidRequest,
		fmt.Sprintf("handshake failed: %s", reason),
	).WithData(&HandshakeErrorData{
		Offered:   offered,
		Supported: supported,
		Reason:    reason,
	})
}

// TransportClosed creates an error for requests orphaned by transport
// closure.
func TransportClosed(cause error) SessionError {
	msg := "transport closed"
	if cause != nil {
		msg = fmt.Sprintf("transport closed: %s", cause.Error())
	}
	return Wrap(cause, KindTransportClosed, protocol.ConnectionClosed, msg)
}

// SessionClosed creates an error for sends attempted after session shutdown.
func SessionClosed() SessionError {
	return New(KindTransportClosed, protocol.ConnectionClosed, "session is closed")
}

// MethodNotFoundError creates an error for unhandled request methods.
func MethodNotFoundError(method string) SessionError {
	return New(
		KindProtocol,
		protocol.MethodNotFound,
		fmt.Sprintf("method not found: %s", method),
	).WithContext(&Context{
		Method:    method,
		Timestamp: time.Now(),
	})
}

// InvalidParamsError creates an error for malformed request parameters.
func InvalidParamsError(method, detail string) SessionError {
	msg := "invalid method parameters"
	if detail != "" {
		msg = fmt.Sprintf("invalid method parameters: %s", detail)
	}
	return New(KindProtocol, protocol.InvalidParams, msg).
		WithContext(&Context{
			Method:    method,
			Timestamp: time.Now(),
		})
}

// InvalidRequestError creates an InvalidRequest-class protocol error.
func InvalidRequestError(detail string) SessionError {
	msg := "invalid request"
	if detail != "" {
		msg = fmt.Sprintf("invalid request: %s", detail)
	}
	return New(KindProtocol, protocol.InvalidRequest, msg)
}

// ParseErrorf creates a parse error for malformed incoming JSON.
func ParseErrorf(format string, args ...interface{}) SessionError {
	return Newf(KindProtocol, protocol.ParseError, "parse error: "+format, args...)
}

// HandlerFailed wraps a failure raised inside a registered handler. The
// failure is contained to the one request the handler was serving.
func HandlerFailed(method string, cause error) SessionError {
	msg := fmt.Sprintf("handler for %s failed", method)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return Wrap(cause, KindHandler, protocol.InternalError, msg).
		WithContext(&Context{
			Method:    method,
			Timestamp: time.Now(),
		})
}

// HandlerPanicked wraps a panic recovered at the dispatch boundary.
func HandlerPanicked(method string, recovered interface{}) SessionError {
	return New(
		KindHandler,
		protocol.InternalError,
		fmt.Sprintf("handler for %s panicked: %v", method, recovered),
	).WithContext(&Context{
		Method:    method,
		Timestamp: time.Now(),
	})
}
