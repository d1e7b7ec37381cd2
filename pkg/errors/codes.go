package errors

import "github.com/ajitpratap0/mcp-session-go/pkg/protocol"

// kindByCode maps JSON-RPC error codes to their Kind classification. All
// five standard codes, internal error included, classify as KindProtocol on
// the receiving side: KindHandler is reserved for failures of this process's
// own handlers. Codes not listed here (including the whole
// implementation-defined range) fall back to KindProtocol too.
var kindByCode = map[protocol.ErrorCode]Kind{
	protocol.ParseError:       KindProtocol,
	protocol.InvalidRequest:   KindProtocol,
	protocol.MethodNotFound:   KindProtocol,
	protocol.InvalidParams:    KindProtocol,
	protocol.InternalError:    KindProtocol,
	protocol.ConnectionClosed: KindTransportClosed,
	protocol.RequestTimeout:   KindTimeout,
	protocol.RequestCancelled: KindCancelled,
}

// KindForCode returns the Kind a JSON-RPC error code maps to.
func KindForCode(code protocol.ErrorCode) Kind {
	if kind, ok := kindByCode[code]; ok {
		return kind
	}
	return KindProtocol
}

// codeByKind is the inverse mapping used when an engine-originated error
// must be reported to the peer.
var codeByKind = map[Kind]protocol.ErrorCode{
	KindTimeout:         protocol.RequestTimeout,
	KindCancelled:       protocol.RequestCancelled,
	KindProtocol:        protocol.InvalidRequest,
	KindHandshake:       protocol.InvalidRequest,
	KindTransportClosed: protocol.ConnectionClosed,
	KindHandler:         protocol.InternalError,
}

// CodeForKind returns the JSON-RPC error code used to report a Kind on the
// wire.
func CodeForKind(kind Kind) protocol.ErrorCode {
	if code, ok := codeByKind[kind]; ok {
		return code
	}
	return protocol.InternalError
}
