package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/server"
	"github.com/localrivet/calcmcp/tools/calc"
	"github.com/localrivet/calcmcp/types"
)

// testSession is a minimal in-process ClientSession for driving HandleMessage
// directly.
type testSession struct {
	id            string
	state         atomic.Int32
	lastActive    atomic.Int64
	sent          []protocol.JSONRPCResponse
	notifications []protocol.JSONRPCNotification
	closed        atomic.Bool
}

func newTestSession(id string) *testSession {
	s := &testSession{id: id}
	s.Touch()
	return s
}

func (s *testSession) SessionID() string { return s.id }

func (s *testSession) SendResponse(response protocol.JSONRPCResponse) error {
	s.sent = append(s.sent, response)
	return nil
}

func (s *testSession) SendNotification(notification protocol.JSONRPCNotification) error {
	s.notifications = append(s.notifications, notification)
	return nil
}

func (s *testSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *testSession) State() types.SessionState { return types.SessionState(s.state.Load()) }

func (s *testSession) SetState(st types.SessionState) { s.state.Store(int32(st)) }

func (s *testSession) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *testSession) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

func newCalcServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.NewServer("test-host", server.WithIdleTimeout(0))
	require.NoError(t, srv.RegisterTool(calc.AddTool(), calc.HandleAdd))
	return srv
}

func message(t *testing.T, id interface{}, method string, params interface{}) json.RawMessage {
	t.Helper()
	var msg interface{}
	if id == nil {
		msg = protocol.NewNotification(method, params)
	} else {
		msg = protocol.NewRequest(id, method, params)
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

// handshake drives a session to the ready state.
func handshake(t *testing.T, srv *server.Server, session *testSession) {
	t.Helper()
	resp := srv.HandleMessage(context.Background(), session.id, message(t, 1, protocol.MethodInitialize,
		protocol.InitializeRequestParams{
			ProtocolVersion: protocol.ProtocolVersion,
			ClientInfo:      protocol.Implementation{Name: "test-client", Version: "0.0.1"},
		}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "initialize should succeed")

	resp = srv.HandleMessage(context.Background(), session.id, message(t, nil, protocol.MethodInitialized,
		protocol.InitializedNotificationParams{}))
	require.Nil(t, resp, "initialized notification expects no response")
	require.Equal(t, types.StateReady, session.State())
}

func TestRegisterToolValidation(t *testing.T) {
	srv := server.NewServer("test-host", server.WithIdleTimeout(0))
	handler := func(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
		return nil, nil
	}

	err := srv.RegisterTool(protocol.Tool{}, handler)
	assert.ErrorContains(t, err, "name cannot be empty")

	err = srv.RegisterTool(protocol.Tool{Name: "thing"}, nil)
	assert.ErrorContains(t, err, "cannot be nil")

	require.NoError(t, srv.RegisterTool(protocol.Tool{Name: "thing"}, handler))
	err = srv.RegisterTool(protocol.Tool{Name: "thing"}, handler)
	assert.ErrorContains(t, err, "already registered")
}

func TestInitializeReturnsSessionAndVersion(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 1, protocol.MethodInitialize,
		protocol.InitializeRequestParams{ProtocolVersion: protocol.ProtocolVersion}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(protocol.InitializeResult)
	require.True(t, ok, "result should be an InitializeResult, got %T", resp.Result)
	assert.Equal(t, protocol.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, "test-host", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 1, protocol.MethodInitialize,
		protocol.InitializeRequestParams{ProtocolVersion: "1999-12-31"}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeUnsupportedProtocolVersion, resp.Error.Code)
}

func TestCallBeforeHandshakeRejected(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "add", Arguments: map[string]interface{}{"a": 1, "b": 2}}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeProtocolOrder, resp.Error.Code)
}

func TestDuplicateInitializeRejected(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))

	init := message(t, 1, protocol.MethodInitialize,
		protocol.InitializeRequestParams{ProtocolVersion: protocol.ProtocolVersion})
	resp := srv.HandleMessage(context.Background(), "s1", init)
	require.Nil(t, resp.Error)

	resp = srv.HandleMessage(context.Background(), "s1", init)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeProtocolOrder, resp.Error.Code)
}

func TestInitializeAfterReadyRejected(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 9, protocol.MethodInitialize,
		protocol.InitializeRequestParams{ProtocolVersion: protocol.ProtocolVersion}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeProtocolOrder, resp.Error.Code)
}

func TestUnknownSessionRejected(t *testing.T) {
	srv := newCalcServer(t)
	resp := srv.HandleMessage(context.Background(), "nope", message(t, 1, protocol.MethodPing, struct{}{}))
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeUnknownSession, resp.Error.Code)
}

func TestListTools(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 2, protocol.MethodListTools, struct{}{}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(protocol.ListToolsResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "add", result.Tools[0].Name)
	assert.ElementsMatch(t, []string{"a", "b"}, result.Tools[0].InputSchema.Required)
}

func callAdd(t *testing.T, srv *server.Server, sessionID string, a, b interface{}) *protocol.JSONRPCResponse {
	t.Helper()
	raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "add",
		Arguments: map[string]interface{}{"a": a, "b": b},
	})
	return srv.HandleMessage(context.Background(), sessionID, raw)
}

func resultText(t *testing.T, resp *protocol.JSONRPCResponse) (string, bool) {
	t.Helper()
	result, ok := resp.Result.(protocol.CallToolResult)
	require.True(t, ok, "result should be a CallToolResult, got %T", resp.Result)
	require.NotEmpty(t, result.Content)
	text, ok2 := result.Content[0].(protocol.TextContent)
	require.True(t, ok2)
	return text.Text, result.IsError
}

func TestCallToolAdd(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	tests := []struct {
		name string
		a, b interface{}
		want string
	}{
		{"integers", 145, 87, "232"},
		{"integers to round sum", 31, 69, "100"},
		{"negative", -5, 3, "-2"},
		{"floats with integral sum", 2.5, 0.5, "3.0"},
		{"mixed int and float", 1, 0.25, "1.25"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := callAdd(t, srv, "s1", tc.a, tc.b)
			require.NotNil(t, resp)
			require.Nil(t, resp.Error)
			text, isErr := resultText(t, resp)
			assert.False(t, isErr)
			assert.Equal(t, tc.want, text)
		})
	}
}

func TestCallToolValidation(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	t.Run("missing parameter", func(t *testing.T) {
		raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{
			Name:      "add",
			Arguments: map[string]interface{}{"a": 1},
		})
		resp := srv.HandleMessage(context.Background(), "s1", raw)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
	})

	t.Run("non-numeric parameter", func(t *testing.T) {
		resp := callAdd(t, srv, "s1", "one", 2)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
	})

	t.Run("unexpected parameter", func(t *testing.T) {
		raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{
			Name:      "add",
			Arguments: map[string]interface{}{"a": 1, "b": 2, "c": 3},
		})
		resp := srv.HandleMessage(context.Background(), "s1", raw)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
	})

	t.Run("out of bounds", func(t *testing.T) {
		resp := callAdd(t, srv, "s1", json.Number("2000000000000000000"), 1)
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
	})
}

func TestCallToolNotFound(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{Name: "multiply"})
	resp := srv.HandleMessage(context.Background(), "s1", raw)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeToolNotFound, resp.Error.Code)
}

func TestHandlerPanicBecomesToolError(t *testing.T) {
	srv := server.NewServer("test-host", server.WithIdleTimeout(0))
	require.NoError(t, srv.RegisterTool(
		protocol.Tool{Name: "boom", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		func(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
			panic("kaboom")
		}))

	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{Name: "boom"})
	resp := srv.HandleMessage(context.Background(), "s1", raw)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "panics surface as tool results, not protocol errors")

	text, isErr := resultText(t, resp)
	assert.True(t, isErr)
	assert.Contains(t, text, "kaboom")
}

func TestHandlerErrorBecomesToolError(t *testing.T) {
	srv := server.NewServer("test-host", server.WithIdleTimeout(0))
	require.NoError(t, srv.RegisterTool(
		protocol.Tool{Name: "flaky", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		func(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
			return nil, fmt.Errorf("backend unavailable")
		}))

	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{Name: "flaky"})
	resp := srv.HandleMessage(context.Background(), "s1", raw)
	require.Nil(t, resp.Error)
	text, isErr := resultText(t, resp)
	assert.True(t, isErr)
	assert.Contains(t, text, "backend unavailable")
}

func TestPing(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 4, protocol.MethodPing, struct{}{}))
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
}

func TestShutdownClosesSession(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	resp := srv.HandleMessage(context.Background(), "s1", message(t, 5, protocol.MethodShutdown,
		protocol.ShutdownParams{}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, types.StateClosed, session.State())

	// A later call on the closed session is a protocol-order error, not
	// unknown-session: the host remembers it was torn down.
	resp = callAdd(t, srv, "s1", 1, 2)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeProtocolOrder, resp.Error.Code)
}

func TestServerShutdownRejectsNewSessions(t *testing.T) {
	srv := newCalcServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	err := srv.RegisterSession(newTestSession("late"))
	assert.ErrorContains(t, err, "shutting down")
}

func TestIdleSessionReaped(t *testing.T) {
	srv := server.NewServer("test-host", server.WithIdleTimeout(100*time.Millisecond))
	require.NoError(t, srv.RegisterTool(calc.AddTool(), calc.HandleAdd))

	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	// The reaper ticks at a one-second floor, so give it a couple of cycles.
	require.Eventually(t, func() bool {
		return session.State() == types.StateClosed
	}, 3*time.Second, 50*time.Millisecond, "idle session was never closed")
	assert.True(t, session.closed.Load())

	// The reaped session stays registered, so a late request is a
	// protocol-order error rather than unknown-session.
	resp := callAdd(t, srv, "s1", 1, 2)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeProtocolOrder, resp.Error.Code)
}

func TestShutdownDrainsInFlightCalls(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	srv := server.NewServer("test-host", server.WithIdleTimeout(0))
	require.NoError(t, srv.RegisterTool(
		protocol.Tool{Name: "slow", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		func(ctx context.Context, args map[string]interface{}) ([]protocol.Content, error) {
			close(started)
			<-release
			return []protocol.Content{protocol.NewTextContent("done")}, nil
		}))

	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))
	handshake(t, srv, session)

	raw := message(t, 3, protocol.MethodCallTool, protocol.CallToolParams{Name: "slow"})
	callDone := make(chan *protocol.JSONRPCResponse, 1)
	go func() {
		callDone <- srv.HandleMessage(context.Background(), "s1", raw)
	}()
	<-started

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		shutdownDone <- srv.Shutdown(ctx)
	}()

	// Shutdown must block on the in-flight invocation until it finishes.
	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned while a call was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdownDone)

	resp := <-callDone
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	text, isErr := resultText(t, resp)
	assert.False(t, isErr)
	assert.Equal(t, "done", text)
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv := newCalcServer(t)
	session := newTestSession("s1")
	require.NoError(t, srv.RegisterSession(session))

	resp := srv.HandleMessage(context.Background(), "s1",
		json.RawMessage(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}
