package protocol

import "fmt"

// ErrorCode identifies a JSON-RPC error. Codes in the -32700..-32600 range are
// defined by the JSON-RPC 2.0 specification; the -32000..-32099 range carries
// MCP-specific conditions.
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603

	// CodeToolNotFound is returned for tools/call naming an unregistered tool.
	CodeToolNotFound ErrorCode = -32000
	// CodeProtocolOrder is returned when a request arrives outside the session
	// state that permits it: a tool call before the handshake completed, or
	// any request after the session was closed.
	CodeProtocolOrder ErrorCode = -32001
	// CodeUnknownSession is returned when a request presents a session ID the
	// host does not recognize, typically because it expired or was torn down.
	CodeUnknownSession ErrorCode = -32002
	// CodeToolExecution is returned when a tool handler fails or panics.
	CodeToolExecution ErrorCode = -32003
	// CodeUnsupportedProtocolVersion is returned when the initialize request
	// names a protocol revision the host does not speak.
	CodeUnsupportedProtocolVersion ErrorCode = -32004
	// CodeUnauthorized is returned when a network transport rejects the
	// request's credentials.
	CodeUnauthorized ErrorCode = -32005
)

// MCPError wraps ErrorPayload to implement the error interface. Handlers can
// return this type to surface specific JSON-RPC error details.
type MCPError struct {
	ErrorPayload
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error: code=%d message=%s", e.Code, e.Message)
}

// NewError creates an MCPError with the given code and formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *MCPError {
	return &MCPError{ErrorPayload{Code: code, Message: fmt.Sprintf(format, args...)}}
}
