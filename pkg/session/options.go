package session

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ajitpratap0/mcp-session-go/pkg/auth"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/observability"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// DefaultRequestTimeout applies to outbound requests sent without a
// per-call timeout option.
const DefaultRequestTimeout = 30 * time.Second

// Role determines which side of the handshake this session plays.
type Role int

const (
	// RoleInitiator opens the session and drives the initialize handshake.
	RoleInitiator Role = iota
	// RoleResponder answers the handshake and serves inbound requests.
	RoleResponder
)

// String returns the name of the role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Config holds session construction parameters. Use Options to modify it.
type Config struct {
	Role Role

	// Info identifies this implementation to the peer during the handshake.
	Info protocol.Implementation

	// Capabilities advertised during the handshake. Initiators use
	// ClientCapabilities, responders use ServerCapabilities.
	ClientCapabilities protocol.ClientCapabilities
	ServerCapabilities protocol.ServerCapabilities

	// Instructions is optional responder guidance returned from initialize.
	Instructions string

	// ProtocolVersions is the ordered version preference list. Defaults to
	// protocol.SupportedProtocolVersions.
	ProtocolVersions []string

	// DefaultTimeout bounds outbound requests without a per-call override.
	// Zero means DefaultRequestTimeout.
	DefaultTimeout time.Duration

	Logger   logging.Logger
	Metrics  observability.SessionMetrics
	Tracing  *observability.TracingProvider
	Verifier auth.TokenVerifier
}

// Option configures a Session at construction time.
type Option func(*Config)

// WithRole sets the handshake role. The default is RoleInitiator.
func WithRole(role Role) Option {
	return func(c *Config) {
		c.Role = role
	}
}

// WithImplementation sets the name/version advertised to the peer.
func WithImplementation(info protocol.Implementation) Option {
	return func(c *Config) {
		c.Info = info
	}
}

// WithClientCapabilities sets the capability tree offered by an initiator.
func WithClientCapabilities(caps protocol.ClientCapabilities) Option {
	return func(c *Config) {
		c.ClientCapabilities = caps
	}
}

// WithServerCapabilities sets the capability tree advertised by a responder.
func WithServerCapabilities(caps protocol.ServerCapabilities) Option {
	return func(c *Config) {
		c.ServerCapabilities = caps
	}
}

// WithInstructions sets the optional instructions a responder returns from
// initialize.
func WithInstructions(instructions string) Option {
	return func(c *Config) {
		c.Instructions = instructions
	}
}

// WithProtocolVersions overrides the ordered version preference list.
func WithProtocolVersions(versions []string) Option {
	return func(c *Config) {
		c.ProtocolVersions = versions
	}
}

// WithDefaultTimeout sets the session-wide default request timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.DefaultTimeout = timeout
	}
}

// WithLogger sets the session logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(metrics observability.SessionMetrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithTracing sets the tracing provider.
func WithTracing(tracing *observability.TracingProvider) Option {
	return func(c *Config) {
		c.Tracing = tracing
	}
}

// WithTokenVerifier sets the verifier consulted before inbound requests are
// dispatched. Nil disables verification.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(c *Config) {
		c.Verifier = verifier
	}
}

// envConfig mirrors the environment-driven subset of Config.
type envConfig struct {
	DefaultTimeout time.Duration `env:"MCP_SESSION_DEFAULT_TIMEOUT,default=30s"`
	LogLevel       string        `env:"MCP_SESSION_LOG_LEVEL,default=info"`
}

// ConfigFromEnv derives session options from MCP_SESSION_* environment
// variables.
func ConfigFromEnv() ([]Option, error) {
	var ec envConfig
	if err := envdecode.Decode(&ec); err != nil {
		return nil, fmt.Errorf("session: decoding environment config: %w", err)
	}

	var level logging.Level
	switch ec.LogLevel {
	case "debug":
		level = logging.DebugLevel
	case "info":
		level = logging.InfoLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	default:
		return nil, fmt.Errorf("session: unknown log level %q", ec.LogLevel)
	}

	logger := logging.New(nil, nil)
	logger.SetLevel(level)

	return []Option{
		WithDefaultTimeout(ec.DefaultTimeout),
		WithLogger(logger),
	}, nil
}

// requestOptions holds per-call send options.
type requestOptions struct {
	timeout    time.Duration
	noTimeout  bool
	onProgress ProgressHandler
}

// RequestOption configures a single SendRequest call.
type RequestOption func(*requestOptions)

// WithTimeout overrides the session default timeout for one request.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = timeout
		o.noTimeout = false
	}
}

// WithNoTimeout disables the deadline for one request. The request then
// settles only on response, cancellation, or transport closure.
func WithNoTimeout() RequestOption {
	return func(o *requestOptions) {
		o.noTimeout = true
	}
}

// WithProgress attaches a progress callback to one request. The session
// allocates a progress token, carries it in the request's _meta member, and
// routes matching notifications/progress to the handler until settlement.
func WithProgress(handler ProgressHandler) RequestOption {
	return func(o *requestOptions) {
		o.onProgress = handler
	}
}
