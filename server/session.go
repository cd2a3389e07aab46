package server

import (
	"sync/atomic"
	"time"

	"github.com/localrivet/calcmcp/types"
)

// sessionState holds the lifecycle and activity bookkeeping shared by every
// transport-specific session type. Embed it and implement the remaining
// types.ClientSession methods.
type sessionState struct {
	state      atomic.Int32
	lastActive atomic.Int64 // unix nanos
}

func (s *sessionState) State() types.SessionState {
	return types.SessionState(s.state.Load())
}

func (s *sessionState) SetState(state types.SessionState) {
	s.state.Store(int32(state))
}

func (s *sessionState) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *sessionState) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}
