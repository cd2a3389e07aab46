// Package server provides the calcmcp tool host implementation, independent
// of transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// DefaultIdleTimeout is how long a session may sit without traffic before the
// host tears it down. Overridable with WithIdleTimeout.
const DefaultIdleTimeout = 5 * time.Minute

// serverVersion is reported in the initialize result.
const serverVersion = "0.1.0"

// ToolHandlerFunc executes one tool invocation. The argument map has already
// been validated against the tool's input schema; numeric values arrive as
// json.Number. A returned *protocol.MCPError becomes a JSON-RPC error
// response; any other error becomes a tool result flagged with isError.
type ToolHandlerFunc func(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error)

// Server is the transport-independent core of the tool host. Transports feed
// raw JSON-RPC messages into HandleMessage and deliver the returned responses.
type Server struct {
	name         string
	instructions string
	logger       types.Logger

	registryMu sync.RWMutex
	tools      map[string]protocol.Tool
	handlers   map[string]ToolHandlerFunc

	sessions    sync.Map // sessionID -> types.ClientSession
	idleTimeout time.Duration

	accepting atomic.Bool
	inFlight  sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. The default logs to stderr at INFO.
func WithLogger(logger types.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdleTimeout overrides the session idle timeout. Zero disables idle
// reaping entirely.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// WithInstructions sets the instructions string returned during the handshake.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) { s.instructions = instructions }
}

// NewServer creates a new tool host core with the provided options.
func NewServer(name string, opts ...ServerOption) *Server {
	s := &Server{
		name:        name,
		logger:      logx.NewDefault(),
		tools:       make(map[string]protocol.Tool),
		handlers:    make(map[string]ToolHandlerFunc),
		idleTimeout: DefaultIdleTimeout,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.accepting.Store(true)
	if s.idleTimeout > 0 {
		go s.reapIdleSessions()
	}
	s.logger.Info("server %q created", name)
	return s
}

// RegisterTool associates a tool descriptor with a handler. It fails if the
// name is empty, already registered, or the handler is nil.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandlerFunc) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for tool %q cannot be nil", tool.Name)
	}
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	s.logger.Info("registered tool: %s", tool.Name)
	return nil
}

// RegisterSession adds a client session. It fails while the server is
// shutting down or if the session ID is already in use.
func (s *Server) RegisterSession(session types.ClientSession) error {
	if session == nil {
		return fmt.Errorf("cannot register nil session")
	}
	if !s.accepting.Load() {
		return fmt.Errorf("server is shutting down, not accepting sessions")
	}
	id := session.SessionID()
	if _, loaded := s.sessions.LoadOrStore(id, session); loaded {
		return fmt.Errorf("session %q already registered", id)
	}
	session.Touch()
	s.logger.Info("registered session: %s", id)
	return nil
}

// UnregisterSession removes a session, typically on connection loss.
func (s *Server) UnregisterSession(sessionID string) {
	if _, loaded := s.sessions.LoadAndDelete(sessionID); loaded {
		s.logger.Info("unregistered session: %s", sessionID)
	}
}

// Tools returns a copy of the registered tool descriptors.
func (s *Server) Tools() []protocol.Tool {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	tools := make([]protocol.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	return tools
}

// HandleMessage processes one raw JSON-RPC message for the given session and
// returns the response to deliver, or nil for notifications.
func (s *Server) HandleMessage(ctx context.Context, sessionID string, rawMessage json.RawMessage) *protocol.JSONRPCResponse {
	sessionI, ok := s.sessions.Load(sessionID)
	if !ok {
		s.logger.Warn("message for unknown session %s", sessionID)
		return protocol.NewErrorResponse(nil, protocol.CodeUnknownSession,
			fmt.Sprintf("unknown or expired session %q", sessionID))
	}
	session := sessionI.(types.ClientSession)
	session.Touch()

	var base struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(rawMessage, &base); err != nil {
		s.logger.Error("session %s: failed to parse message: %v", sessionID, err)
		return protocol.NewErrorResponse(nil, protocol.CodeParseError,
			fmt.Sprintf("failed to parse JSON: %v", err))
	}
	if base.JSONRPC != protocol.Version {
		return protocol.NewErrorResponse(base.ID, protocol.CodeInvalidRequest,
			fmt.Sprintf("invalid jsonrpc version %q", base.JSONRPC))
	}

	switch session.State() {
	case types.StateClosed:
		s.logger.Warn("session %s: %q rejected, session closed", sessionID, base.Method)
		return protocol.NewErrorResponse(base.ID, protocol.CodeProtocolOrder,
			"session is closed")
	case types.StateUninitialized, types.StateInitializing:
		return s.handleHandshakeMessage(ctx, session, base.ID, base.Method, base.Params)
	}

	// Session is ready.
	if base.ID == nil {
		s.handleNotification(session, base.Method)
		return nil
	}
	return s.handleRequest(ctx, session, base.ID, base.Method, base.Params)
}

// handleHandshakeMessage enforces the initialize/initialized ordering before
// any tool traffic is allowed.
func (s *Server) handleHandshakeMessage(ctx context.Context, session types.ClientSession, id interface{}, method string, rawParams json.RawMessage) *protocol.JSONRPCResponse {
	sessionID := session.SessionID()
	switch {
	case method == protocol.MethodInitialize && id != nil:
		if session.State() == types.StateInitializing {
			return protocol.NewErrorResponse(id, protocol.CodeProtocolOrder,
				"initialize already received for this session")
		}
		return s.handleInitialize(session, id, rawParams)
	case method == protocol.MethodInitialized && id == nil:
		if session.State() != types.StateInitializing {
			s.logger.Warn("session %s: initialized notification before initialize", sessionID)
			return nil
		}
		session.SetState(types.StateReady)
		s.logger.Info("session %s ready", sessionID)
		return nil
	default:
		s.logger.Warn("session %s: %q rejected during handshake", sessionID, method)
		return protocol.NewErrorResponse(id, protocol.CodeProtocolOrder,
			"expected 'initialize' request or 'initialized' notification during handshake")
	}
}

func (s *Server) handleInitialize(session types.ClientSession, id interface{}, rawParams json.RawMessage) *protocol.JSONRPCResponse {
	var params protocol.InitializeRequestParams
	if err := protocol.UnmarshalPayload(rawParams, &params); err != nil {
		return protocol.NewErrorResponse(id, protocol.CodeInvalidParams,
			fmt.Sprintf("failed to parse initialize params: %v", err))
	}
	if params.ProtocolVersion != protocol.ProtocolVersion {
		return protocol.NewErrorResponse(id, protocol.CodeUnsupportedProtocolVersion,
			fmt.Sprintf("unsupported protocol version %q, server supports %q",
				params.ProtocolVersion, protocol.ProtocolVersion))
	}

	session.SetState(types.StateInitializing)
	s.logger.Info("session %s: initialize from client %s %s",
		session.SessionID(), params.ClientInfo.Name, params.ClientInfo.Version)

	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{},
		},
		ServerInfo:   protocol.Implementation{Name: s.name, Version: serverVersion},
		SessionID:    session.SessionID(),
		Instructions: s.instructions,
	}
	return protocol.NewSuccessResponse(id, result)
}

func (s *Server) handleRequest(ctx context.Context, session types.ClientSession, id interface{}, method string, rawParams json.RawMessage) *protocol.JSONRPCResponse {
	switch method {
	case protocol.MethodListTools:
		return protocol.NewSuccessResponse(id, protocol.ListToolsResult{Tools: s.Tools()})
	case protocol.MethodCallTool:
		return s.handleCallTool(ctx, session, id, rawParams)
	case protocol.MethodPing:
		return protocol.NewSuccessResponse(id, struct{}{})
	case protocol.MethodShutdown:
		return s.handleShutdown(session, id)
	case protocol.MethodInitialize:
		return protocol.NewErrorResponse(id, protocol.CodeProtocolOrder,
			"session already initialized")
	default:
		s.logger.Warn("session %s: method not found: %s", session.SessionID(), method)
		return protocol.NewErrorResponse(id, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not implemented", method))
	}
}

func (s *Server) handleNotification(session types.ClientSession, method string) {
	// No post-handshake notifications are defined; log and drop.
	s.logger.Debug("session %s: ignoring notification %q", session.SessionID(), method)
}

// handleShutdown performs explicit session teardown. The session stays
// registered in the closed state so that later requests on the same session
// get a protocol-order error rather than an unknown-session error.
func (s *Server) handleShutdown(session types.ClientSession, id interface{}) *protocol.JSONRPCResponse {
	session.SetState(types.StateClosed)
	s.logger.Info("session %s closed by client", session.SessionID())
	return protocol.NewSuccessResponse(id, protocol.ShutdownResult{})
}

// handleCallTool validates and dispatches one tool invocation, emitting a
// single structured log record with correlation ID, elapsed time, and outcome.
func (s *Server) handleCallTool(ctx context.Context, session types.ClientSession, id interface{}, rawParams json.RawMessage) *protocol.JSONRPCResponse {
	var params protocol.CallToolParams
	if err := protocol.UnmarshalPayload(rawParams, &params); err != nil {
		return protocol.NewErrorResponse(id, protocol.CodeInvalidParams,
			fmt.Sprintf("failed to parse tools/call params: %v", err))
	}

	// Count the invocation before any dispatch work so a concurrent
	// Shutdown cannot finish draining while this call is still in flight.
	s.inFlight.Add(1)
	defer s.inFlight.Done()
	if !s.accepting.Load() {
		return protocol.NewErrorResponse(id, protocol.CodeProtocolOrder,
			"server is shutting down")
	}

	s.registryMu.RLock()
	tool, toolOK := s.tools[params.Name]
	handler, handlerOK := s.handlers[params.Name]
	s.registryMu.RUnlock()

	callID := uuid.NewString()
	start := time.Now()

	if !toolOK || !handlerOK {
		s.logger.Warn("call %s session=%s tool=%q outcome=not_found elapsed=%s",
			callID, session.SessionID(), params.Name, time.Since(start))
		return protocol.NewErrorResponse(id, protocol.CodeToolNotFound,
			fmt.Sprintf("tool %q not found", params.Name))
	}

	if err := validateArguments(tool.InputSchema, params.Arguments); err != nil {
		s.logger.Warn("call %s session=%s tool=%s outcome=validation_error elapsed=%s error=%q",
			callID, session.SessionID(), tool.Name, time.Since(start), err.Message)
		return protocol.NewErrorResponse(id, err.Code, err.Message)
	}

	content, err := s.invoke(ctx, handler, params.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		var mcpErr *protocol.MCPError
		if errors.As(err, &mcpErr) {
			s.logger.Warn("call %s session=%s tool=%s outcome=error elapsed=%s error=%q",
				callID, session.SessionID(), tool.Name, elapsed, mcpErr.Message)
			return protocol.NewErrorResponse(id, mcpErr.Code, mcpErr.Message)
		}
		// Handler failure: reported as a tool result, never propagated raw.
		s.logger.Error("call %s session=%s tool=%s outcome=handler_error elapsed=%s error=%q",
			callID, session.SessionID(), tool.Name, elapsed, err.Error())
		return protocol.NewSuccessResponse(id, protocol.CallToolResult{
			Content: []protocol.Content{protocol.NewTextContent(err.Error())},
			IsError: true,
		})
	}

	s.logger.Info("call %s session=%s tool=%s outcome=success elapsed=%s",
		callID, session.SessionID(), tool.Name, elapsed)
	return protocol.NewSuccessResponse(id, protocol.CallToolResult{Content: content})
}

// invoke runs the handler, converting a panic into an error.
func (s *Server) invoke(ctx context.Context, handler ToolHandlerFunc, args map[string]interface{}) (content []protocol.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}

// Shutdown stops accepting new sessions, waits for in-flight invocations to
// finish (bounded by ctx), then closes all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.accepting.Store(false)
	s.closeOnce.Do(func() { close(s.done) })
	s.logger.Info("shutting down, draining in-flight invocations")

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("shutdown drain aborted: %v", err)
	}

	s.sessions.Range(func(key, value interface{}) bool {
		session := value.(types.ClientSession)
		session.SetState(types.StateClosed)
		_ = session.Close()
		s.sessions.Delete(key)
		return true
	})
	s.logger.Info("shutdown complete")
	return err
}

// reapIdleSessions closes sessions that have been quiet longer than the idle
// timeout.
func (s *Server) reapIdleSessions() {
	interval := s.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.sessions.Range(func(key, value interface{}) bool {
				session := value.(types.ClientSession)
				if session.State() == types.StateClosed {
					return true
				}
				if now.Sub(session.LastActive()) > s.idleTimeout {
					s.logger.Info("session %s idle for more than %s, closing",
						session.SessionID(), s.idleTimeout)
					session.SetState(types.StateClosed)
					_ = session.Close()
				}
				return true
			})
		}
	}
}
