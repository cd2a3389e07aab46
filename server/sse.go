package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/localrivet/calcmcp/auth"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// sseSession implements types.ClientSession for the hybrid SSE transport.
// Server-to-client messages are queued as formatted SSE event strings and
// drained by the GET handler's write loop; client-to-server messages arrive
// via HTTP POST on a session-scoped message endpoint.
type sseSession struct {
	sessionState
	id         string
	eventQueue chan string
	done       chan struct{}
	closeOnce  sync.Once
	closed     atomic.Bool
	logger     types.Logger
}

func newSSESession(logger types.Logger) *sseSession {
	return &sseSession{
		id:         uuid.NewString(),
		eventQueue: make(chan string, 100),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (s *sseSession) SessionID() string { return s.id }

func (s *sseSession) SendResponse(response protocol.JSONRPCResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return s.queueEvent(fmt.Sprintf("event: message\ndata: %s\n\n", data))
}

func (s *sseSession) SendNotification(notification protocol.JSONRPCNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.queueEvent(fmt.Sprintf("event: message\ndata: %s\n\n", data))
}

func (s *sseSession) queueEvent(event string) error {
	// The buffered send below could otherwise win the select against a
	// closed done channel and enqueue onto a stream nobody drains.
	if s.closed.Load() {
		return fmt.Errorf("session %s is closed", s.id)
	}
	select {
	case s.eventQueue <- event:
		return nil
	case <-s.done:
		return fmt.Errorf("session %s is closed", s.id)
	default:
		s.logger.Error("session %s: event queue full, dropping event", s.id)
		return fmt.Errorf("event queue full")
	}
}

// Close signals the SSE write loop to terminate. Safe to call more than once.
func (s *sseSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

var _ types.ClientSession = (*sseSession)(nil)

// SSEOptions configure the HTTP/SSE listener.
type SSEOptions struct {
	// BasePath prefixes both endpoints, e.g. "/mcp". Defaults to "".
	BasePath string
	// SSEEndpoint is the path of the event stream. Defaults to "/sse".
	SSEEndpoint string
	// MessageEndpoint is the path clients POST messages to. Defaults to "/message".
	MessageEndpoint string
	// Validator, when non-nil, requires a valid bearer token on every request.
	Validator auth.TokenValidator
}

// SSEServer exposes a Server over the hybrid SSE transport: a GET endpoint
// holds the event stream open and announces a session-scoped message URL via
// an "endpoint" event, and a POST endpoint accepts JSON-RPC messages whose
// responses are delivered back on the stream.
type SSEServer struct {
	server          *Server
	logger          types.Logger
	router          chi.Router
	httpServer      *http.Server
	basePath        string
	sseEndpoint     string
	messageEndpoint string
}

// NewSSEServer creates the HTTP handler stack for the hybrid SSE transport.
func NewSSEServer(server *Server, opts SSEOptions) *SSEServer {
	s := &SSEServer{
		server:          server,
		logger:          server.logger,
		basePath:        normalizeBasePath(opts.BasePath),
		sseEndpoint:     normalizeEndpoint(opts.SSEEndpoint, "/sse"),
		messageEndpoint: normalizeEndpoint(opts.MessageEndpoint, "/message"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware(opts.Validator, s.logger))
	r.Get(s.basePath+s.sseEndpoint, s.handleSSE)
	r.Post(s.basePath+s.messageEndpoint, s.handleMessage)
	s.router = r

	s.logger.Info("SSE endpoints ready: GET %s%s, POST %s%s",
		s.basePath, s.sseEndpoint, s.basePath, s.messageEndpoint)
	return s
}

func normalizeBasePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func normalizeEndpoint(p, fallback string) string {
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Handler returns the http.Handler serving both SSE endpoints, for mounting
// into an existing server or an httptest instance.
func (s *SSEServer) Handler() http.Handler { return s.router }

// ListenAndServe serves HTTP on addr until the context is cancelled, then
// shuts the listener down gracefully.
func (s *SSEServer) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", addr)
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

// handleSSE holds the event stream open for one session, announcing the
// session-scoped message URL first, then draining the session's event queue.
func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	session := newSSESession(s.logger)
	if err := s.server.RegisterSession(session); err != nil {
		s.logger.Error("failed to register SSE session: %v", err)
		http.Error(w, "session registration failed", http.StatusServiceUnavailable)
		return
	}
	defer s.server.UnregisterSession(session.SessionID())

	s.logger.Info("SSE connection established, session %s from %s", session.SessionID(), r.RemoteAddr)

	endpointURL := fmt.Sprintf("%s%s?sessionId=%s", s.basePath, s.messageEndpoint, session.SessionID())
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointURL)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case event := <-session.eventQueue:
			if _, err := fmt.Fprint(w, event); err != nil {
				s.logger.Warn("session %s: write failed, closing stream: %v", session.SessionID(), err)
				return
			}
			flusher.Flush()
		case <-session.done:
			s.logger.Info("session %s: closed, ending SSE stream", session.SessionID())
			return
		case <-ctx.Done():
			s.logger.Info("session %s: client disconnected", session.SessionID())
			return
		}
	}
}

// handleMessage accepts one JSON-RPC message via POST. The response, if any,
// is queued onto the session's SSE stream; the POST itself returns 204.
func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-Id")
	}
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, protocol.CodeInvalidParams,
			"missing sessionId query parameter or X-Session-Id header")
		return
	}

	sessionValue, ok := s.server.sessions.Load(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, protocol.CodeUnknownSession,
			fmt.Sprintf("unknown session %q", sessionID))
		return
	}
	session := sessionValue.(types.ClientSession)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, protocol.CodeParseError,
			fmt.Sprintf("parse error: %v", err))
		return
	}

	response := s.server.HandleMessage(r.Context(), sessionID, raw)
	if response != nil {
		if err := session.SendResponse(*response); err != nil {
			s.logger.Error("session %s: failed to queue response: %v", sessionID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *SSEServer) writeError(w http.ResponseWriter, status int, code protocol.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := protocol.NewErrorResponse(nil, code, message)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write error response: %v", err)
	}
}
