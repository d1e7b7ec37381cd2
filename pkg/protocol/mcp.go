package protocol

import (
	"encoding/json"
	"fmt"
)

// Protocol revisions in descending order of preference. Version negotiation
// picks the first entry of the local list that also appears in the peer's
// offer.
const (
	// LatestProtocolVersion is the most recent revision this engine speaks.
	LatestProtocolVersion = "2025-06-18"

	// Methods for lifecycle management
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	// Notification methods
	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
	NotificationProgress    = "notifications/progress"
)

// SupportedProtocolVersions lists every revision this engine can negotiate,
// most preferred first.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

// NegotiateVersion selects the first entry of supported (ordered by local
// preference) that also appears in offered. It reports false when the two
// lists do not intersect.
func NegotiateVersion(supported, offered []string) (string, bool) {
	for _, v := range supported {
		for _, o := range offered {
			if v == o {
				return v, true
			}
		}
	}
	return "", false
}

// Implementation describes one peer of a session (name/version pair sent
// during the handshake).
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// RootsCapability advertises client support for workspace roots.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability advertises client support for model sampling requests.
type SamplingCapability struct{}

// ElicitationCapability advertises client support for user elicitation.
type ElicitationCapability struct{}

// ClientCapabilities is the feature tree offered by the initiator. Nil
// pointers mean the feature is not supported; the tree is frozen once the
// handshake completes.
type ClientCapabilities struct {
	Roots        *RootsCapability           `json:"roots,omitempty"`
	Sampling     *SamplingCapability        `json:"sampling,omitempty"`
	Elicitation  *ElicitationCapability     `json:"elicitation,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// ToolsCapability advertises server tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability advertises server resource support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability advertises server prompt support.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability advertises server log forwarding.
type LoggingCapability struct{}

// CompletionsCapability advertises server argument completion.
type CompletionsCapability struct{}

// ServerCapabilities is the feature tree advertised by the responder.
type ServerCapabilities struct {
	Tools        *ToolsCapability           `json:"tools,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Prompts      *PromptsCapability         `json:"prompts,omitempty"`
	Logging      *LoggingCapability         `json:"logging,omitempty"`
	Completions  *CompletionsCapability     `json:"completions,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// InitializeParams defines the parameters for the initialize request.
// ProtocolVersion is the initiator's first choice; SupportedVersions, when
// present, carries the full ordered offer so the responder can negotiate
// against more than one revision.
type InitializeParams struct {
	ProtocolVersion   string             `json:"protocolVersion"`
	SupportedVersions []string           `json:"supportedVersions,omitempty"`
	Capabilities      ClientCapabilities `json:"capabilities"`
	ClientInfo        Implementation     `json:"clientInfo"`
}

// OfferedVersions returns the full ordered version offer, falling back to
// the single protocolVersion for peers that do not send a list.
func (p *InitializeParams) OfferedVersions() []string {
	if len(p.SupportedVersions) > 0 {
		return p.SupportedVersions
	}
	if p.ProtocolVersion != "" {
		return []string{p.ProtocolVersion}
	}
	return nil
}

// InitializeResult defines the response for the initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// InitializedParams is sent as a notification once the initiator is ready.
type InitializedParams struct {
	// Intentionally empty as per specification
}

// CancelledParams defines parameters for the cancelled notification.
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// ProgressToken correlates progress notifications with the request they
// were issued against. Like a request ID it is an opaque string or integer,
// chosen by the caller.
type ProgressToken = RequestID

// ProgressParams defines parameters for the progress notification.
type ProgressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// PingResult is the (empty) response to a ping request.
type PingResult struct{}

// requestMeta is the reserved _meta member of request params, used to carry
// the progress token on the wire.
type requestMeta struct {
	ProgressToken *ProgressToken `json:"progressToken,omitempty"`
}

// WithProgressToken injects a progress token into the _meta member of
// serialized request params. A nil params value yields params containing
// only _meta.
func WithProgressToken(params json.RawMessage, token ProgressToken) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &obj); err != nil {
			return nil, fmt.Errorf("params must be an object to carry a progress token: %w", err)
		}
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}

	meta, err := json.Marshal(requestMeta{ProgressToken: &token})
	if err != nil {
		return nil, err
	}
	obj["_meta"] = meta

	return json.Marshal(obj)
}

// ProgressTokenFromParams extracts the progress token from the _meta member
// of request params, if present.
func ProgressTokenFromParams(params json.RawMessage) (ProgressToken, bool) {
	if len(params) == 0 {
		return ProgressToken{}, false
	}
	var wrapper struct {
		Meta *requestMeta `json:"_meta"`
	}
	if err := json.Unmarshal(params, &wrapper); err != nil {
		return ProgressToken{}, false
	}
	if wrapper.Meta == nil || wrapper.Meta.ProgressToken == nil || !wrapper.Meta.ProgressToken.IsValid() {
		return ProgressToken{}, false
	}
	return *wrapper.Meta.ProgressToken, true
}
