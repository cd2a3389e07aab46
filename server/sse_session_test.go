package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/calcmcp/logx"
	"github.com/localrivet/calcmcp/protocol"
)

func TestSSESessionQueuesUntilClosed(t *testing.T) {
	session := newSSESession(logx.NewDefault())

	resp := protocol.NewSuccessResponse(1, struct{}{})
	require.NoError(t, session.SendResponse(*resp))
	assert.Len(t, session.eventQueue, 1)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close(), "Close must be idempotent")

	// Sends after Close must fail even though the queue still has room.
	err := session.SendResponse(*resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	err = session.SendNotification(*protocol.NewNotification("notifications/test", struct{}{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// Nothing was enqueued by the rejected sends.
	assert.Len(t, session.eventQueue, 1)
}
