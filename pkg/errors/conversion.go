package errors

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// ToJSONRPCError converts any error to a JSON-RPC error object suitable for
// an error response. Non-session errors are reported as internal errors.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if se, ok := AsSessionError(err); ok {
		return &protocol.Error{
			Code:    se.Code(),
			Message: se.Message(),
			Data:    se.Data(),
		}
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// ToJSONRPCResponse converts any error to a JSON-RPC error response for the
// given request ID.
func ToJSONRPCResponse(err error, id protocol.RequestID) (*protocol.Response, error) {
	if err == nil {
		return nil, fmt.Errorf("cannot create error response from nil error")
	}
	rpcErr := ToJSONRPCError(err)
	return protocol.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

// FromJSONRPCError converts a peer-reported JSON-RPC error into a
// SessionError, classifying it by code.
func FromJSONRPCError(rpcErr *protocol.Error) SessionError {
	if rpcErr == nil {
		return nil
	}

	err := New(KindForCode(rpcErr.Code), rpcErr.Code, rpcErr.Message)
	if rpcErr.Data != nil {
		err = err.WithData(rpcErr.Data)
	}
	return err
}

// FromContextError converts a context cancellation or deadline error into
// the corresponding SessionError for the given request.
func FromContextError(ctxErr error, id protocol.RequestID, method string) SessionError {
	switch ctxErr {
	case context.DeadlineExceeded:
		return New(
			KindTimeout,
			protocol.RequestTimeout,
			fmt.Sprintf("request %s (%s) deadline exceeded", id, method),
		)
	case context.Canceled:
		return RequestCancelled(id, "context cancelled")
	}
	return Wrap(ctxErr, KindCancelled, protocol.RequestCancelled,
		fmt.Sprintf("request %s aborted: %v", id, ctxErr))
}
