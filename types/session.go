package types

import (
	"time"

	"github.com/localrivet/calcmcp/protocol"
)

// SessionState tracks where a client session sits in its lifecycle. Requests
// are only dispatched to tool handlers while the session is Ready.
type SessionState int32

const (
	// StateUninitialized is the state before any handshake message arrived.
	StateUninitialized SessionState = iota
	// StateInitializing means the initialize request was accepted but the
	// initialized notification has not arrived yet.
	StateInitializing
	// StateReady means the handshake completed; tool calls are accepted.
	StateReady
	// StateClosed means the session was torn down, either explicitly or by
	// idle timeout or connection loss. Closed sessions reject all requests.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientSession represents an active connection from a single client. The
// core server uses this interface to send messages back to the client and to
// track the session's handshake state, regardless of transport.
type ClientSession interface {
	// SessionID returns the unique identifier for this session.
	SessionID() string

	// SendResponse sends a JSON-RPC response to the client.
	SendResponse(response protocol.JSONRPCResponse) error

	// SendNotification sends a JSON-RPC notification to the client.
	SendNotification(notification protocol.JSONRPCNotification) error

	// Close terminates the session and releases transport resources. It is
	// idempotent.
	Close() error

	// State returns the session's current lifecycle state.
	State() SessionState

	// SetState transitions the session to the given state.
	SetState(state SessionState)

	// Touch records activity on the session, deferring the idle timeout.
	Touch()

	// LastActive returns the time of the most recent activity.
	LastActive() time.Time
}
