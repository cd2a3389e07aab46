package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// MessageHandler is the slice of the host's surface the in-memory transport
// needs. *server.Server satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sessionID string, rawMessage json.RawMessage) *protocol.JSONRPCResponse
	RegisterSession(session types.ClientSession) error
	UnregisterSession(sessionID string)
}

// memorySession implements types.ClientSession for in-process use. Responses
// delivered through it are dropped because the in-memory transport returns
// them directly from HandleMessage.
type memorySession struct {
	id         string
	state      atomic.Int32
	lastActive atomic.Int64
}

func newMemorySession() *memorySession {
	s := &memorySession{id: uuid.NewString()}
	s.Touch()
	return s
}

func (s *memorySession) SessionID() string { return s.id }

func (s *memorySession) SendResponse(protocol.JSONRPCResponse) error { return nil }

func (s *memorySession) SendNotification(protocol.JSONRPCNotification) error { return nil }

func (s *memorySession) Close() error { return nil }

func (s *memorySession) State() types.SessionState {
	return types.SessionState(s.state.Load())
}

func (s *memorySession) SetState(state types.SessionState) {
	s.state.Store(int32(state))
}

func (s *memorySession) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *memorySession) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

var _ types.ClientSession = (*memorySession)(nil)

// InMemoryTransport connects a Client to a host in the same process with no
// wire in between. Intended for tests and embedding.
type InMemoryTransport struct {
	handler MessageHandler

	mu        sync.Mutex
	session   *memorySession
	connected atomic.Bool
	closeOnce sync.Once
}

// NewInMemoryTransport creates a transport routing directly to handler.
func NewInMemoryTransport(handler MessageHandler) *InMemoryTransport {
	return &InMemoryTransport{handler: handler}
}

// Connect registers an in-process session with the host.
func (t *InMemoryTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return ErrAlreadyConnected
	}
	session := newMemorySession()
	if err := t.handler.RegisterSession(session); err != nil {
		return NewConnectionError("inmemory", "failed to register session", err)
	}
	t.mu.Lock()
	t.session = session
	t.mu.Unlock()
	t.connected.Store(true)
	return nil
}

// SendRequest routes one request through the host and returns its response.
func (t *InMemoryTransport) SendRequest(ctx context.Context, request *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, NewTransportError("inmemory", "failed to marshal request", err)
	}
	response := t.handler.HandleMessage(ctx, t.sessionID(), raw)
	if response == nil {
		return nil, NewTransportError("inmemory", "host returned no response for request", nil)
	}
	return response, nil
}

// SendNotification routes one notification through the host.
func (t *InMemoryTransport) SendNotification(ctx context.Context, notification *protocol.JSONRPCNotification) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	raw, err := json.Marshal(notification)
	if err != nil {
		return NewTransportError("inmemory", "failed to marshal notification", err)
	}
	t.handler.HandleMessage(ctx, t.sessionID(), raw)
	return nil
}

// IsConnected implements Transport.
func (t *InMemoryTransport) IsConnected() bool { return t.connected.Load() }

// Close unregisters the session. Safe to call more than once.
func (t *InMemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.mu.Lock()
		session := t.session
		t.mu.Unlock()
		if session != nil {
			t.handler.UnregisterSession(session.SessionID())
		}
	})
	return nil
}

func (t *InMemoryTransport) sessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return ""
	}
	return t.session.SessionID()
}

var _ Transport = (*InMemoryTransport)(nil)
