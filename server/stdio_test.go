package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/transport/stdio"
)

// pipeClient drives a host over in-memory pipes the way a stdio caller would.
type pipeClient struct {
	t      *testing.T
	writer io.Writer
	reader *bufio.Reader
}

func (c *pipeClient) send(msg interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(c.t, err)
	raw = append(raw, '\n')
	_, err = c.writer.Write(raw)
	require.NoError(c.t, err)
}

func (c *pipeClient) recv() *protocol.JSONRPCResponse {
	c.t.Helper()
	line, err := c.reader.ReadBytes('\n')
	require.NoError(c.t, err)
	var resp protocol.JSONRPCResponse
	require.NoError(c.t, json.Unmarshal(line, &resp))
	return &resp
}

func TestServeTransportEndToEnd(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := newCalcServer(t)
	transport := stdio.NewWithReadWriter(inR, outW, nil)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ServeTransport(context.Background(), transport)
	}()

	c := &pipeClient{t: t, writer: inW, reader: bufio.NewReader(outR)}

	c.send(protocol.NewRequest(1, protocol.MethodInitialize, protocol.InitializeRequestParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "pipe-client", Version: "0.0.1"},
	}))
	resp := c.recv()
	require.Nil(t, resp.Error)

	var initResult protocol.InitializeResult
	require.NoError(t, protocol.UnmarshalPayload(resp.Result, &initResult))
	assert.Equal(t, protocol.ProtocolVersion, initResult.ProtocolVersion)
	assert.NotEmpty(t, initResult.SessionID)

	c.send(protocol.NewNotification(protocol.MethodInitialized, protocol.InitializedNotificationParams{}))

	c.send(protocol.NewRequest(2, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "add",
		Arguments: map[string]interface{}{"a": 145, "b": 87},
	}))
	resp = c.recv()
	require.Nil(t, resp.Error)

	var callResult protocol.CallToolResult
	require.NoError(t, protocol.UnmarshalPayload(resp.Result, &callResult))
	require.False(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
	text := callResult.Content[0].(protocol.TextContent)
	assert.Equal(t, "232", text.Text)

	// Closing the input stream is a clean disconnect.
	require.NoError(t, inW.Close())
	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not stop after input closed")
	}
}

func TestServeTransportInvalidJSON(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := newCalcServer(t)
	transport := stdio.NewWithReadWriter(inR, outW, nil)

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ServeTransport(context.Background(), transport)
	}()

	c := &pipeClient{t: t, writer: inW, reader: bufio.NewReader(outR)}

	_, err := inW.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	resp := c.recv()
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)

	require.NoError(t, inW.Close())
	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not stop after input closed")
	}
}
