package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/types"
)

// StdioTransport speaks newline-delimited JSON to a host subprocess over its
// standard input and output. The host's stderr passes through to ours so its
// logs stay visible.
type StdioTransport struct {
	command string
	args    []string
	logger  types.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan *protocol.JSONRPCResponse

	connected atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// NewStdioTransport creates a transport that will spawn the given command.
func NewStdioTransport(command string, args []string, logger types.Logger) *StdioTransport {
	if logger == nil {
		logger = logx.NewDefault()
	}
	return &StdioTransport{
		command: command,
		args:    args,
		logger:  logger,
		pending: make(map[string]chan *protocol.JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

// Connect spawns the subprocess and starts the read loop.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return ErrAlreadyConnected
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return NewConnectionError(t.command, "failed to open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewConnectionError(t.command, "failed to open stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return NewConnectionError(t.command, "failed to start host process", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.connected.Store(true)

	go t.readLoop()
	t.logger.Debug("spawned host process %s (pid %d)", t.command, cmd.Process.Pid)
	return nil
}

// SendRequest writes one request line and blocks for the matching response.
func (t *StdioTransport) SendRequest(ctx context.Context, request *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
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
		return nil, NewTransportError("stdio", "host process ended before responding", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendNotification writes one notification line.
func (t *StdioTransport) SendNotification(ctx context.Context, notification *protocol.JSONRPCNotification) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	return t.writeMessage(notification)
}

// IsConnected implements Transport.
func (t *StdioTransport) IsConnected() bool { return t.connected.Load() }

// Close closes stdin, which signals the host to exit, then reaps the process.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.doneOnce.Do(func() { close(t.done) })
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil {
			err = t.cmd.Wait()
		}
	})
	return err
}

func (t *StdioTransport) writeMessage(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return NewTransportError("stdio", "failed to write to host stdin", err)
	}
	return nil
}

// readLoop reads newline-delimited messages from the host's stdout and routes
// responses to their waiting request by ID.
func (t *StdioTransport) readLoop() {
	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var response protocol.JSONRPCResponse
		if err := json.Unmarshal(line, &response); err != nil {
			t.logger.Warn("ignoring unparseable line from host: %v", err)
			continue
		}
		if response.ID == nil {
			t.logger.Debug("ignoring message without id from host")
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

	if err := scanner.Err(); err != nil {
		t.logger.Debug("host stdout read ended: %v", err)
	}
	t.connected.Store(false)
	t.doneOnce.Do(func() { close(t.done) })
}

// idKey normalizes a request or response ID to a map key. JSON numbers decode
// as float64, so integer IDs from both sides render identically.
func idKey(id interface{}) string {
	switch v := id.(type) {
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

var _ Transport = (*StdioTransport)(nil)
