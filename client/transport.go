package client

import (
	"context"

	"github.com/localrivet/calcmcp/protocol"
)

// Transport abstracts the wire a caller speaks over. Implementations handle
// connection setup, request/response correlation, and teardown; the Client
// drives the protocol on top.
type Transport interface {
	// Connect establishes the underlying connection. It must be called
	// before any send.
	Connect(ctx context.Context) error

	// SendRequest sends a request and blocks until the matching response
	// arrives or the context is done. Correlation is by request ID.
	SendRequest(ctx context.Context, request *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error)

	// SendNotification sends a notification. No response is expected.
	SendNotification(ctx context.Context, notification *protocol.JSONRPCNotification) error

	// IsConnected reports whether the transport is usable.
	IsConnected() bool

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
