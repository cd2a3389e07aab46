// Package client implements the caller side of the calcmcp tool-calling
// protocol: it connects to a host over a pluggable transport, performs the
// initialize handshake, and invokes tools.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// DefaultRequestTimeout bounds each request when the caller's context carries
// no deadline of its own.
const DefaultRequestTimeout = 30 * time.Second

const clientVersion = "0.1.0"

// Client is a connected tool caller.
type Client struct {
	transport  Transport
	logger     types.Logger
	timeout    time.Duration
	clientInfo protocol.Implementation

	nextID    atomic.Int64
	connected atomic.Bool
	closeOnce sync.Once

	mu         sync.Mutex
	sessionID  string
	serverInfo protocol.Implementation
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger types.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout sets the per-request timeout applied when the caller's
// context has no deadline.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClientInfo sets the implementation info announced during the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = protocol.Implementation{Name: name, Version: version}
	}
}

// New creates a Client over the given transport. Call Connect before using it.
func New(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		logger:     logx.NewDefault(),
		timeout:    DefaultRequestTimeout,
		clientInfo: protocol.Implementation{Name: "calcmcp-client", Version: clientVersion},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the transport connection and performs the handshake:
// an 'initialize' request followed by an 'initialized' notification. The
// client is ready for tool calls once Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	if err := c.transport.Connect(ctx); err != nil {
		return NewConnectionError("", "failed to connect transport", err)
	}

	params := protocol.InitializeRequestParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      c.clientInfo,
		Capabilities:    protocol.ClientCapabilities{},
	}
	response, err := c.request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result protocol.InitializeResult
	if err := protocol.UnmarshalPayload(response.Result, &result); err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("%w: bad initialize result: %v", ErrInvalidResponse, err)
	}
	if result.ProtocolVersion != protocol.ProtocolVersion {
		_ = c.transport.Close()
		return fmt.Errorf("%w: host speaks %q, client speaks %q",
			ErrVersionMismatch, result.ProtocolVersion, protocol.ProtocolVersion)
	}

	c.mu.Lock()
	c.sessionID = result.SessionID
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	notification := protocol.NewNotification(protocol.MethodInitialized, protocol.InitializedNotificationParams{})
	if err := c.transport.SendNotification(ctx, notification); err != nil {
		_ = c.transport.Close()
		return NewTransportError("", "failed to send initialized notification", err)
	}

	c.connected.Store(true)
	c.logger.Info("connected to %s %s, session %s", result.ServerInfo.Name, result.ServerInfo.Version, result.SessionID)
	return nil
}

// SessionID returns the session identifier assigned by the host, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerInfo returns the host's implementation info from the handshake.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ListTools returns the tools the host exposes.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	response, err := c.request(ctx, protocol.MethodListTools, struct{}{})
	if err != nil {
		return nil, err
	}
	var result protocol.ListToolsResult
	if err := protocol.UnmarshalPayload(response.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: bad tools/list result: %v", ErrInvalidResponse, err)
	}
	return result.Tools, nil
}

// CallTool invokes the named tool and returns its result. A JSON-RPC error
// from the host becomes a ServerError; a result with IsError set is returned
// as-is for the caller to inspect.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*protocol.CallToolResult, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	params := protocol.CallToolParams{Name: name, Arguments: arguments}
	response, err := c.request(ctx, protocol.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := protocol.UnmarshalPayload(response.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: bad tools/call result: %v", ErrInvalidResponse, err)
	}
	return &result, nil
}

// CallToolText invokes the named tool and returns its first text content.
// A result flagged as an execution failure is surfaced as ErrToolFailed.
func (c *Client) CallToolText(ctx context.Context, name string, arguments map[string]interface{}) (string, error) {
	result, err := c.CallTool(ctx, name, arguments)
	if err != nil {
		return "", err
	}
	text := firstText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("%w: %s", ErrToolFailed, text)
	}
	if text == "" {
		return "", fmt.Errorf("%w: result carries no text content", ErrInvalidResponse)
	}
	return text, nil
}

// Ping checks that the host is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	_, err := c.request(ctx, protocol.MethodPing, struct{}{})
	return err
}

// Close ends the session and tears down the transport. The shutdown request
// is best-effort; transport teardown happens regardless. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.connected.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if _, shutdownErr := c.request(ctx, protocol.MethodShutdown, protocol.ShutdownParams{}); shutdownErr != nil {
				c.logger.Debug("shutdown request failed: %v", shutdownErr)
			}
			cancel()
		}
		c.connected.Store(false)
		err = c.transport.Close()
	})
	return err
}

// request sends one JSON-RPC request and maps error responses to ServerError.
func (c *Client) request(ctx context.Context, method string, params interface{}) (*protocol.JSONRPCResponse, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	request := protocol.NewRequest(id, method, params)

	start := time.Now()
	response, err := c.transport.SendRequest(ctx, request)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutError(method, c.timeout, err)
		}
		return nil, NewTransportError("", fmt.Sprintf("request %s failed", method), err)
	}
	c.logger.Debug("request %s completed in %s", method, time.Since(start))

	if response.Error != nil {
		return nil, NewServerError(method, int(response.Error.Code), response.Error.Message)
	}
	return response, nil
}

func firstText(content []protocol.Content) string {
	for _, item := range content {
		if text, ok := item.(protocol.TextContent); ok {
			return text.Text
		}
		if text, ok := item.(*protocol.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
