// Package errors provides structured error handling for the MCP session
// engine. Every failure visible to a caller collapses to one Kind; each
// error also carries the JSON-RPC code it maps to on the wire.
package errors

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// Kind classifies an error for programmatic handling. It is the fixed
// taxonomy every caller-visible failure collapses to.
type Kind string

const (
	// KindTimeout means a request did not settle before its deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled means a request was cancelled before settlement,
	// either locally or by the peer.
	KindCancelled Kind = "cancelled"
	// KindProtocol covers JSON-RPC level failures (parse errors, unknown
	// methods, invalid params, peer-reported errors).
	KindProtocol Kind = "protocol"
	// KindHandshake means version or capability negotiation failed; the
	// session is unusable.
	KindHandshake Kind = "handshake"
	// KindTransportClosed means the underlying channel closed or failed
	// while requests were outstanding.
	KindTransportClosed Kind = "transport_closed"
	// KindHandler means a registered handler failed or panicked; contained
	// to the one request it was serving.
	KindHandler Kind = "handler"
)

// Context provides additional context about where and when an error occurred
type Context struct {
	RequestID string    `json:"request_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	Operation string    `json:"operation,omitempty"`
}

// SessionError is the interface implemented by all engine errors.
type SessionError interface {
	error

	// Kind returns the error classification
	Kind() Kind

	// Code returns the JSON-RPC error code
	Code() protocol.ErrorCode

	// Message returns a human-readable error message
	Message() string

	// Data returns structured error data for programmatic handling
	Data() interface{}

	// Context returns the error context information
	Context() *Context

	// WithContext returns a new error with the provided context
	WithContext(ctx *Context) SessionError

	// WithDetail returns a new error with additional detail
	WithDetail(detail string) SessionError

	// WithData returns a new error with structured data
	WithData(data interface{}) SessionError

	// Unwrap returns the underlying error for error chain traversal
	Unwrap() error
}

// baseError implements the SessionError interface
type baseError struct {
	kind    Kind
	code    protocol.ErrorCode
	message string
	detail  string
	data    interface{}
	context *Context
	cause   error
}

// Error implements the error interface
func (e *baseError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.message, e.detail)
	}
	return e.message
}

// Kind returns the error classification
func (e *baseError) Kind() Kind {
	return e.kind
}

// Code returns the JSON-RPC error code
func (e *baseError) Code() protocol.ErrorCode {
	return e.code
}

// Message returns the human-readable error message
func (e *baseError) Message() string {
	return e.message
}

// Data returns structured error data
func (e *baseError) Data() interface{} {
	return e.data
}

// Context returns the error context
func (e *baseError) Context() *Context {
	return e.context
}

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) SessionError {
	newErr := *e
	newErr.context = ctx
	return &newErr
}

// WithDetail returns a new error with additional detail
func (e *baseError) WithDetail(detail string) SessionError {
	newErr := *e
	if newErr.detail != "" {
		newErr.detail = fmt.Sprintf("%s; %s", newErr.detail, detail)
	} else {
		newErr.detail = detail
	}
	return &newErr
}

// WithData returns a new error with structured data
func (e *baseError) WithData(data interface{}) SessionError {
	newErr := *e
	newErr.data = data
	return &newErr
}

// Unwrap returns the underlying error
func (e *baseError) Unwrap() error {
	return e.cause
}

// MarshalJSON implements json.Marshaler for baseError
func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"kind":    string(e.kind),
		"code":    int(e.code),
		"message": e.message,
	}
	if e.detail != "" {
		out["detail"] = e.detail
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates a new SessionError with the specified parameters
func New(kind Kind, code protocol.ErrorCode, message string) SessionError {
	return &baseError{
		kind:    kind,
		code:    code,
		message: message,
		context: &Context{Timestamp: time.Now()},
	}
}

// Newf creates a new SessionError with a formatted message
func Newf(kind Kind, code protocol.ErrorCode, format string, args ...interface{}) SessionError {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error as a SessionError
func Wrap(err error, kind Kind, code protocol.ErrorCode, message string) SessionError {
	return &baseError{
		kind:    kind,
		code:    code,
		message: message,
		cause:   err,
		context: &Context{Timestamp: time.Now()},
	}
}

// AsSessionError extracts a SessionError from any error chain.
func AsSessionError(err error) (SessionError, bool) {
	if err == nil {
		return nil, false
	}
	for e := err; e != nil; e = unwrapOnce(e) {
		if se, ok := e.(SessionError); ok {
			return se, true
		}
	}
	return nil, false
}

func unwrapOnce(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// IsKind checks if an error is of a specific kind
func IsKind(err error, kind Kind) bool {
	if se, ok := AsSessionError(err); ok {
		return se.Kind() == kind
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code protocol.ErrorCode) bool {
	if se, ok := AsSessionError(err); ok {
		return se.Code() == code
	}
	return false
}
