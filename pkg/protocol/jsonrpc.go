package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	// JSONRPCVersion is the supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// ErrorCode represents standard JSON-RPC 2.0 error codes
type ErrorCode int

// Standard error codes as per JSON-RPC 2.0 specification
const (
	ParseError     ErrorCode = -32700
	InvalidRequest ErrorCode = -32600
	MethodNotFound ErrorCode = -32601
	InvalidParams  ErrorCode = -32602
	InternalError  ErrorCode = -32603
)

// MCP-specific error codes
const (
	// ConnectionClosed indicates the underlying transport closed while a
	// request was outstanding
	ConnectionClosed ErrorCode = -32000
	// RequestTimeout indicates a request did not settle before its deadline
	RequestTimeout ErrorCode = -32001
	// RequestCancelled indicates a request was cancelled before settlement
	RequestCancelled ErrorCode = -32800
)

// RequestID identifies a JSON-RPC request. Per the specification it is
// either a non-empty string or an integer. The zero value marshals as null,
// which is only legal on error responses to unparseable requests.
type RequestID struct {
	value any // string, int64, or nil
}

// NewStringID creates a string-valued request ID.
func NewStringID(s string) RequestID {
	return RequestID{value: s}
}

// NewIntID creates an integer-valued request ID.
func NewIntID(n int64) RequestID {
	return RequestID{value: n}
}

// IsValid reports whether the ID holds a non-empty string or an integer.
func (id RequestID) IsValid() bool {
	switch v := id.value.(type) {
	case string:
		return v != ""
	case int64:
		return true
	}
	return false
}

// String returns a human-readable form of the ID for logging.
func (id RequestID) String() string {
	switch v := id.value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return "<nil>"
}

// MarshalJSON encodes the ID as a JSON string, number, or null.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch v := id.value.(type) {
	case string:
		return json.Marshal(v)
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON string or integer ID. Fractional numbers and
// empty strings are rejected.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		id.value = nil
		return nil
	case string:
		if v == "" {
			return fmt.Errorf("request id must be a non-empty string")
		}
		id.value = v
		return nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			id.value = n
			return nil
		}
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) {
			id.value = int64(f)
			return nil
		}
		return fmt.Errorf("request id must be an integer: %s", v.String())
	}
	return fmt.Errorf("request id must be a string or integer, got %T", raw)
}

// JSONRPCMessage represents a JSON-RPC 2.0 message
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
}

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPCMessage
	ID     RequestID       `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC 2.0 request
func NewRequest(id RequestID, method string, params interface{}) (*Request, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Request{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPCMessage
	ID     RequestID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewResponse creates a new JSON-RPC 2.0 success response
func NewResponse(id RequestID, result interface{}) (*Response, error) {
	resultJSON, err := marshalOptional(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	if resultJSON == nil {
		// A success response must carry a result member.
		resultJSON = json.RawMessage("{}")
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Result:         resultJSON,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response
func NewErrorResponse(id RequestID, code ErrorCode, message string, data interface{}) (*Response, error) {
	var dataJSON interface{}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
		dataJSON = json.RawMessage(dataBytes)
	}

	return &Response{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification
type Notification struct {
	JSONRPCMessage
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC 2.0 notification
func NewNotification(method string, params interface{}) (*Notification, error) {
	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Notification{
		JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
		Method:         method,
		Params:         paramsJSON,
	}, nil
}

// Error represents a JSON-RPC 2.0 error object
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

func marshalOptional(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
