package server_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/calcmcp/client"
	"github.com/localrivet/calcmcp/server"
)

func TestWebSocketEndToEnd(t *testing.T) {
	srv := newCalcServer(t)
	wsServer := server.NewWSServer(srv, server.WSOptions{})

	ts := httptest.NewServer(wsServer.Handler())
	defer ts.Close()

	wsURL := "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/ws"
	transport := client.NewWSTransport(wsURL, nil)
	c := client.New(transport, client.WithClientInfo("ws-test", "0.0.1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	got, err := c.CallToolText(ctx, "add", map[string]interface{}{"a": 2.5, "b": 0.5})
	require.NoError(t, err)
	assert.Equal(t, "3.0", got)
}
