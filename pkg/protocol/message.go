package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageKind tags the four shapes a JSON-RPC message can take on the wire.
type MessageKind int

const (
	// KindRequest is a call expecting a response (has id and method).
	KindRequest MessageKind = iota
	// KindNotification is fire-and-forget (has method, no id).
	KindNotification
	// KindResponse is a successful reply (has id and result).
	KindResponse
	// KindError is a failed reply (has id and error).
	KindError
)

// String returns the name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the tagged union produced by ParseMessage. Exactly one of
// Request, Notification, or Response is non-nil depending on Kind;
// KindResponse and KindError both populate Response.
type Message struct {
	Kind         MessageKind
	Request      *Request
	Notification *Notification
	Response     *Response
}

// probe captures just enough of a raw message to classify it. Classification
// happens once here; downstream code switches on Kind and never re-inspects
// field presence.
type probe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// recoverID best-effort decodes the id member of a frame that failed
// classification. Unusable ids (null, fractional, boolean) come back as the
// zero value.
func (p *probe) recoverID() RequestID {
	var id RequestID
	if len(p.ID) == 0 || json.Unmarshal(p.ID, &id) != nil {
		return RequestID{}
	}
	return id
}

// MessageParseError reports a frame that is syntactically invalid or does not form
// a valid JSON-RPC 2.0 message. ID carries the request id recovered from the
// raw bytes when one was present, so the receiver can address an error reply
// to it; frames without a usable id carry the zero (invalid) ID.
type MessageParseError struct {
	ID  RequestID
	Err error
}

func (e *MessageParseError) Error() string { return e.Err.Error() }

func (e *MessageParseError) Unwrap() error { return e.Err }

// ParseMessage classifies raw JSON into one of the four message shapes. On
// failure it returns a *MessageParseError carrying whatever request id could be
// recovered from the frame.
func ParseMessage(data []byte) (*Message, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &MessageParseError{Err: fmt.Errorf("malformed message: %w", err)}
	}

	msg, err := p.classify(data)
	if err != nil {
		return nil, &MessageParseError{ID: p.recoverID(), Err: err}
	}
	return msg, nil
}

func (p *probe) classify(data []byte) (*Message, error) {
	if p.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", p.JSONRPC)
	}

	hasID := len(p.ID) > 0 && string(p.ID) != "null"
	hasMethod := p.Method != nil && *p.Method != ""

	switch {
	case hasMethod && hasID:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("malformed request: %w", err)
		}
		return &Message{Kind: KindRequest, Request: &req}, nil

	case hasMethod:
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, fmt.Errorf("malformed notification: %w", err)
		}
		return &Message{Kind: KindNotification, Notification: &notif}, nil

	// An error response may carry a null id when the failed request was
	// unparseable, so only the presence of the id member is required here.
	case len(p.ID) > 0 && len(p.Error) > 0 && string(p.Error) != "null":
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		if resp.Error == nil {
			return nil, fmt.Errorf("error response missing error object")
		}
		return &Message{Kind: KindError, Response: &resp}, nil

	case hasID && len(p.Result) > 0:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		return &Message{Kind: KindResponse, Response: &resp}, nil
	}

	return nil, fmt.Errorf("message is not a valid request, notification, or response")
}

// ID returns the request ID carried by the message, if any. Notifications
// return an invalid ID.
func (m *Message) ID() RequestID {
	switch m.Kind {
	case KindRequest:
		return m.Request.ID
	case KindResponse, KindError:
		return m.Response.ID
	}
	return RequestID{}
}
