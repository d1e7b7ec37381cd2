package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ajitpratap0/mcp-session-go/pkg/auth"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
)

// RequestHandler serves one inbound request method. The returned value is
// marshaled as the result; a returned error becomes a JSON-RPC error
// response. The context is cancelled when the peer cancels the request or
// the session closes.
type RequestHandler func(ctx context.Context, req *RequestContext) (interface{}, error)

// NotificationHandler consumes one inbound notification. Handlers run on
// their own goroutines; a slow handler never stalls the read path.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// ProgressHandler consumes progress notifications correlated to an outbound
// request sent with WithProgress.
type ProgressHandler func(params protocol.ProgressParams)

// Registry maps methods to handlers. It is injected at session construction;
// there is no package-level registration. A method has at most one request
// handler and any number of notification handlers.
type Registry struct {
	mu            sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string][]NotificationHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string][]NotificationHandler),
	}
}

// RegisterRequestHandler binds a handler to a request method. Registering a
// method twice is an error.
func (r *Registry) RegisterRequestHandler(method string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("registry: nil handler for method %s", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[method]; exists {
		return fmt.Errorf("registry: handler already registered for method %s", method)
	}
	r.requests[method] = handler
	return nil
}

// RegisterNotificationHandler appends a handler for a notification method.
// All handlers registered for a method are invoked on delivery.
func (r *Registry) RegisterNotificationHandler(method string, handler NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("registry: nil handler for method %s", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications[method] = append(r.notifications[method], handler)
	return nil
}

// requestHandler looks up the handler for a request method.
func (r *Registry) requestHandler(method string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.requests[method]
	return h, ok
}

// notificationHandlers returns a snapshot of the handlers for a method.
func (r *Registry) notificationHandlers(method string) []NotificationHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.notifications[method]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]NotificationHandler, len(handlers))
	copy(out, handlers)
	return out
}

// RequestContext carries one inbound request through its handler.
type RequestContext struct {
	// ID is the peer-assigned request identifier.
	ID protocol.RequestID

	// Method is the request method name.
	Method string

	// Params is the raw params member, nil when absent.
	Params json.RawMessage

	// Token holds the verified caller identity when a TokenVerifier is
	// configured, nil otherwise.
	Token *auth.TokenInfo

	session       *Session
	progressToken *protocol.ProgressToken
}

// UnmarshalParams decodes the request params into v.
func (rc *RequestContext) UnmarshalParams(v interface{}) error {
	if len(rc.Params) == 0 {
		return fmt.Errorf("request %s has no params", rc.Method)
	}
	return json.Unmarshal(rc.Params, v)
}

// ReportProgress emits a notifications/progress correlated to this request.
// It is a no-op when the caller did not attach a progress token.
func (rc *RequestContext) ReportProgress(ctx context.Context, progress, total float64, message string) error {
	if rc.progressToken == nil {
		return nil
	}
	return rc.session.SendNotification(ctx, protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: *rc.progressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}
