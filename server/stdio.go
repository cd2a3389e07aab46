package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/localrivet/calcmcp/protocol"
	"github.com/localrivet/calcmcp/transport/stdio"
	"github.com/localrivet/calcmcp/types"
)

// stdioSession implements types.ClientSession over a stdio transport. A host
// serving stdio has exactly one session for the life of the process.
type stdioSession struct {
	sessionState
	id        string
	transport types.Transport
	logger    types.Logger
}

func newStdioSession(transport types.Transport, logger types.Logger) *stdioSession {
	return &stdioSession{
		id:        uuid.NewString(),
		transport: transport,
		logger:    logger,
	}
}

func (s *stdioSession) SessionID() string { return s.id }

func (s *stdioSession) SendResponse(response protocol.JSONRPCResponse) error {
	msg, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return s.transport.Send(msg)
}

func (s *stdioSession) SendNotification(notification protocol.JSONRPCNotification) error {
	msg, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.transport.Send(msg)
}

func (s *stdioSession) Close() error { return s.transport.Close() }

var _ types.ClientSession = (*stdioSession)(nil)

// ServeStdio runs the host on standard input/output. It blocks until the
// input stream closes, the context is cancelled, or a transport error occurs.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeTransport(ctx, stdio.New(s.logger))
}

// ServeTransport runs the request loop for a single-session byte transport.
// ServeStdio is a thin wrapper around this; tests and embedders can drive the
// loop over arbitrary pipes.
func (s *Server) ServeTransport(ctx context.Context, transport types.Transport) error {
	session := newStdioSession(transport, s.logger)
	if err := s.RegisterSession(session); err != nil {
		return fmt.Errorf("failed to register stdio session: %w", err)
	}
	defer s.UnregisterSession(session.SessionID())

	s.logger.Info("serving on stdio, session %s", session.SessionID())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stdio serve loop stopping: %v", ctx.Err())
			return nil
		default:
		}

		rawMsg, err := transport.ReceiveWithContext(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("stdio input closed, shutting down")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("error receiving message: %w", err)
		}
		if !json.Valid(rawMsg) {
			resp := protocol.NewErrorResponse(nil, protocol.CodeParseError, "received invalid JSON")
			if err := session.SendResponse(*resp); err != nil {
				return fmt.Errorf("failed to send parse error: %w", err)
			}
			continue
		}

		response := s.HandleMessage(ctx, session.SessionID(), rawMsg)
		if response == nil {
			continue
		}
		if err := session.SendResponse(*response); err != nil {
			return fmt.Errorf("failed to send response: %w", err)
		}
	}
}
