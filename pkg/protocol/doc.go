// Package protocol defines the JSON-RPC 2.0 envelope and the MCP lifecycle
// payloads exchanged between session peers.
//
// Raw bytes from a transport are classified exactly once by ParseMessage
// into a tagged Message union (request, notification, response, or error);
// everything downstream switches on Message.Kind rather than re-inspecting
// field presence.
//
// The package also carries the handshake payloads (InitializeParams,
// InitializeResult), the capability trees negotiated during the handshake,
// and the cancellation and progress notification parameter types.
package protocol
