package types

import "context"

// Transport abstracts a bidirectional message stream between an MCP client
// and server (stdio pipes, an SSE/HTTP pair, a WebSocket connection). Messages
// are opaque byte slices holding one JSON-RPC object each.
type Transport interface {
	// Send transmits a message over the transport.
	Send(data []byte) error

	// Receive blocks until a message is received or an error occurs.
	Receive() ([]byte, error)

	// ReceiveWithContext is like Receive but honors context cancellation.
	ReceiveWithContext(ctx context.Context) ([]byte, error)

	// Close terminates the transport. The transport must not be used after
	// Close returns.
	Close() error
}
