// Package mcpsession provides a JSON-RPC 2.0 session engine for the Model
// Context Protocol: request correlation, timeouts, cooperative
// cancellation, notification dispatch, and the initialize handshake over a
// pluggable transport.
package mcpsession

import (
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// Version represents the current version of the module
const Version = "1.0.0"

// These exports provide direct access to the core components
var (
	// NewSession creates a session over a transport
	NewSession = session.New

	// NewRegistry creates an empty handler registry
	NewRegistry = session.NewRegistry

	// NewStdioTransport creates a newline-delimited JSON transport over a
	// byte stream
	NewStdioTransport = transport.NewStdioTransport

	// NewInMemoryPair creates two linked in-process transports
	NewInMemoryPair = transport.NewInMemoryPair
)

// Protocol version constants
const (
	LatestProtocolVersion = protocol.LatestProtocolVersion
)

// Session roles
const (
	RoleInitiator = session.RoleInitiator
	RoleResponder = session.RoleResponder
)

// Session options
var (
	WithRole               = session.WithRole
	WithImplementation     = session.WithImplementation
	WithClientCapabilities = session.WithClientCapabilities
	WithServerCapabilities = session.WithServerCapabilities
	WithInstructions       = session.WithInstructions
	WithProtocolVersions   = session.WithProtocolVersions
	WithDefaultTimeout     = session.WithDefaultTimeout
	WithLogger             = session.WithLogger
	WithMetrics            = session.WithMetrics
	WithTracing            = session.WithTracing
	WithTokenVerifier      = session.WithTokenVerifier
)

// Per-request options
var (
	WithTimeout   = session.WithTimeout
	WithNoTimeout = session.WithNoTimeout
	WithProgress  = session.WithProgress
)
