package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/localrivet/calcmcp/auth"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// wsSession implements types.ClientSession over a single WebSocket connection.
// Each accepted connection gets its own session; writes are serialized with a
// mutex because wsutil frame writers are not concurrency-safe.
type wsSession struct {
	sessionState
	id        string
	conn      net.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newWSSession(conn net.Conn) *wsSession {
	return &wsSession{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (s *wsSession) SessionID() string { return s.id }

func (s *wsSession) SendResponse(response protocol.JSONRPCResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return s.write(data)
}

func (s *wsSession) SendNotification(notification protocol.JSONRPCNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.write(data)
}

func (s *wsSession) write(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session %s is closed", s.id)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsutil.WriteServerMessage(s.conn, ws.OpText, data)
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

var _ types.ClientSession = (*wsSession)(nil)

// WSOptions configure the WebSocket listener.
type WSOptions struct {
	// Path is the upgrade endpoint. Defaults to "/ws".
	Path string
	// Validator, when non-nil, requires a valid bearer token on the upgrade
	// request.
	Validator auth.TokenValidator
}

// WSServer exposes a Server over WebSocket: each connection carries one
// session, with JSON-RPC messages as text frames in both directions.
type WSServer struct {
	server     *Server
	logger     types.Logger
	router     chi.Router
	httpServer *http.Server
	path       string
}

// NewWSServer creates the HTTP handler stack for the WebSocket transport.
func NewWSServer(server *Server, opts WSOptions) *WSServer {
	s := &WSServer{
		server: server,
		logger: server.logger,
		path:   normalizeEndpoint(opts.Path, "/ws"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware(opts.Validator, s.logger))
	r.Get(s.path, s.handleUpgrade)
	s.router = r

	s.logger.Info("WebSocket endpoint ready: GET %s", s.path)
	return s
}

// Handler returns the http.Handler serving the upgrade endpoint.
func (s *WSServer) Handler() http.Handler { return s.router }

// ListenAndServe serves HTTP on addr until the context is cancelled, then
// shuts the listener down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("WebSocket server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	session := newWSSession(conn)
	if err := s.server.RegisterSession(session); err != nil {
		s.logger.Error("failed to register WebSocket session: %v", err)
		_ = conn.Close()
		return
	}

	s.logger.Info("WebSocket connection established, session %s from %s", session.SessionID(), r.RemoteAddr)

	// The HTTP request context ends when this handler returns, so the
	// connection's lifetime governs the loop instead.
	go s.readLoop(context.Background(), session)
}

// readLoop drives one connection: each text frame is a JSON-RPC message, and
// any response is written back as a text frame on the same connection.
func (s *WSServer) readLoop(ctx context.Context, session *wsSession) {
	defer func() {
		_ = session.Close()
		s.server.UnregisterSession(session.SessionID())
	}()

	for {
		msg, op, err := wsutil.ReadClientData(session.conn)
		if err != nil {
			s.logger.Debug("session %s: read ended: %v", session.SessionID(), err)
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		if !json.Valid(msg) {
			resp := protocol.NewErrorResponse(nil, protocol.CodeParseError, "received invalid JSON")
			if err := session.SendResponse(*resp); err != nil {
				return
			}
			continue
		}

		response := s.server.HandleMessage(ctx, session.SessionID(), msg)
		if response == nil {
			continue
		}
		if err := session.SendResponse(*response); err != nil {
			s.logger.Warn("session %s: failed to send response: %v", session.SessionID(), err)
			return
		}
	}
}
