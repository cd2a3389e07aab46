package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// WSTransport speaks JSON-RPC over a single WebSocket connection, one message
// per text frame.
type WSTransport struct {
	url    string
	logger types.Logger

	connMu sync.Mutex
	conn   net.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.JSONRPCResponse

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// NewWSTransport creates a transport for a host at url, e.g.
// "ws://localhost:8080/ws".
func NewWSTransport(url string, logger types.Logger) *WSTransport {
	if logger == nil {
		logger = logx.NewDefault()
	}
	return &WSTransport{
		url:     url,
		logger:  logger,
		pending: make(map[string]chan *protocol.JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

// Connect dials the WebSocket endpoint and starts the read loop.
func (t *WSTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return ErrAlreadyConnected
	}

	conn, _, _, err := ws.Dial(ctx, t.url)
	if err != nil {
		return NewConnectionError(t.url, "failed to dial WebSocket endpoint", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.connected.Store(true)

	go t.readLoop(conn)
	t.logger.Debug("WebSocket transport connected to %s", t.url)
	return nil
}

// SendRequest writes one request frame and blocks for the matching response.
func (t *WSTransport) SendRequest(ctx context.Context, request *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	ch := make(chan *protocol.JSONRPCResponse, 1)
	key := idKey(request.ID)
	t.pendingMu.Lock()
	t.pending[key] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
	}()

	if err := t.writeMessage(request); err != nil {
		return nil, err
	}

	select {
	case response := <-ch:
		return response, nil
	case <-t.done:
		return nil, NewTransportError("ws", "connection closed before response arrived", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification writes one notification frame.
func (t *WSTransport) SendNotification(ctx context.Context, notification *protocol.JSONRPCNotification) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.writeMessage(notification)
}

// IsConnected implements Transport.
func (t *WSTransport) IsConnected() bool { return t.connected.Load() }

// Close closes the connection. Safe to call more than once.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.doneOnce.Do(func() { close(t.done) })
		t.connMu.Lock()
		if t.conn != nil {
			err = t.conn.Close()
		}
		t.connMu.Unlock()
	})
	return err
}

func (t *WSTransport) writeMessage(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return NewTransportError("ws", "failed to marshal message", err)
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := wsutil.WriteClientMessage(t.conn, ws.OpText, data); err != nil {
		return NewTransportError("ws", "failed to write frame", err)
	}
	return nil
}

func (t *WSTransport) readLoop(conn net.Conn) {
	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			t.logger.Debug("WebSocket read ended: %v", err)
			break
		}
		if op == ws.OpClose {
			break
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		var response protocol.JSONRPCResponse
		if err := json.Unmarshal(msg, &response); err != nil {
			t.logger.Warn("ignoring unparseable frame: %v", err)
			continue
		}
		if response.ID == nil {
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[idKey(response.ID)]
		t.pendingMu.Unlock()
		if !ok {
			t.logger.Warn("no pending request for response id %v", response.ID)
			continue
		}
		ch <- &response
	}

	t.connected.Store(false)
	t.doneOnce.Do(func() { close(t.done) })
}

var _ Transport = (*WSTransport)(nil)
