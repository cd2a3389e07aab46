package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// sseEvent is one parsed Server-Sent Event.
type sseEvent struct {
	name string
	data string
}

// SSETransport speaks the hybrid SSE transport: a long-lived GET stream
// carries server-to-client messages, and client-to-server messages go via
// HTTP POST to the session-scoped URL announced in the stream's first
// "endpoint" event.
type SSETransport struct {
	baseURL     string
	bearerToken string
	logger      types.Logger
	httpClient  *http.Client

	connected atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc

	endpointMu  sync.Mutex
	endpointURL string
	endpointCh  chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.JSONRPCResponse
}

// SSETransportOption configures an SSETransport.
type SSETransportOption func(*SSETransport)

// WithBearerToken attaches a bearer token to every HTTP request.
func WithBearerToken(token string) SSETransportOption {
	return func(t *SSETransport) { t.bearerToken = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) SSETransportOption {
	return func(t *SSETransport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// NewSSETransport creates a transport for a host at baseURL, e.g.
// "http://localhost:8080". The SSE stream is expected at <baseURL>/sse.
func NewSSETransport(baseURL string, logger types.Logger, opts ...SSETransportOption) *SSETransport {
	if logger == nil {
		logger = logx.NewDefault()
	}
	t := &SSETransport{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
		httpClient: &http.Client{},
		endpointCh: make(chan struct{}),
		pending:    make(map[string]chan *protocol.JSONRPCResponse),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the SSE stream and blocks until the host announces the
// message endpoint for this session.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return ErrAlreadyConnected
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	streamURL := t.baseURL + "/sse"
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return NewTransportError("sse", "failed to create stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.setAuth(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return NewConnectionError(streamURL, "failed to open SSE stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return NewConnectionError(streamURL, fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}

	go t.readStream(resp.Body)

	select {
	case <-t.endpointCh:
	case <-ctx.Done():
		t.Close()
		return NewTimeoutError("waiting for endpoint event", 0, ctx.Err())
	case <-time.After(10 * time.Second):
		t.Close()
		return NewTimeoutError("waiting for endpoint event", 10*time.Second, nil)
	}

	t.connected.Store(true)
	t.logger.Debug("SSE transport connected, message endpoint %s", t.messageURL())
	return nil
}

// SendRequest POSTs one request and blocks for the matching response from the
// SSE stream.
func (t *SSETransport) SendRequest(ctx context.Context, request *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
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

	if err := t.post(ctx, request); err != nil {
		return nil, err
	}

	select {
	case response := <-ch:
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification POSTs one notification. No response is expected.
func (t *SSETransport) SendNotification(ctx context.Context, notification *protocol.JSONRPCNotification) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.post(ctx, notification)
}

// IsConnected implements Transport.
func (t *SSETransport) IsConnected() bool { return t.connected.Load() }

// Close cancels the SSE stream. Safe to call more than once.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if t.cancel != nil {
			t.cancel()
		}
	})
	return nil
}

func (t *SSETransport) messageURL() string {
	t.endpointMu.Lock()
	defer t.endpointMu.Unlock()
	url := t.endpointURL
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = t.baseURL + url
	}
	return url
}

func (t *SSETransport) setAuth(req *http.Request) {
	if t.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearerToken)
	}
}

func (t *SSETransport) post(ctx context.Context, msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return NewTransportError("sse", "failed to marshal message", err)
	}

	url := t.messageURL()
	if url == "" {
		return NewTransportError("sse", "no message endpoint announced yet", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewTransportError("sse", "failed to create POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.setAuth(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return NewTransportError("sse", "POST failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return NewTransportError("sse",
			fmt.Sprintf("POST rejected: %s - %s", resp.Status, bytes.TrimSpace(bodyBytes)), nil)
	}
	return nil
}

// readStream parses SSE events off the stream and dispatches them: the first
// "endpoint" event unblocks Connect, and "message" events are routed to their
// waiting requests by response ID.
func (t *SSETransport) readStream(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event.name != "" || event.data != "" {
				t.dispatch(event)
			}
			event = sseEvent{}
		case strings.HasPrefix(line, "event:"):
			event.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event.data != "" {
				event.data += "\n"
			}
			event.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// comment line, keep-alive
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE stream ended: %v", err)
	}
	t.connected.Store(false)
}

func (t *SSETransport) dispatch(event sseEvent) {
	switch event.name {
	case "endpoint":
		t.endpointMu.Lock()
		first := t.endpointURL == ""
		t.endpointURL = event.data
		t.endpointMu.Unlock()
		if first {
			close(t.endpointCh)
		}
	case "message":
		var response protocol.JSONRPCResponse
		if err := json.Unmarshal([]byte(event.data), &response); err != nil {
			t.logger.Warn("ignoring unparseable SSE message: %v", err)
			return
		}
		if response.ID == nil {
			t.logger.Debug("ignoring SSE message without id")
			return
		}
		t.pendingMu.Lock()
		ch, ok := t.pending[idKey(response.ID)]
		t.pendingMu.Unlock()
		if !ok {
			t.logger.Warn("no pending request for response id %v", response.ID)
			return
		}
		ch <- &response
	default:
		t.logger.Debug("ignoring SSE event %q", event.name)
	}
}

var _ Transport = (*SSETransport)(nil)
