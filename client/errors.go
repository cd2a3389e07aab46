package client

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors usable with errors.Is().
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrVersionMismatch  = errors.New("protocol version mismatch")
	ErrTransportFailure = errors.New("transport failure")
	ErrInvalidResponse  = errors.New("invalid response from host")
	ErrToolFailed       = errors.New("tool reported failure")
	ErrClosed           = errors.New("client is closed")
)

// ClientError is the base error type for caller-side failures.
type ClientError struct {
	Message string
	Code    int
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (code=%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (code=%d)", e.Message, e.Code)
}

func (e *ClientError) Unwrap() error { return e.Cause }

// TransportError indicates a problem in the transport layer.
type TransportError struct {
	ClientError
	Transport string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %s", e.Transport, e.ClientError.Error())
}

// ConnectionError indicates a failure establishing or holding a connection.
type ConnectionError struct {
	ClientError
	Endpoint string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %s", e.Endpoint, e.ClientError.Error())
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	ClientError
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s: %s", e.Timeout, e.Operation, e.ClientError.Error())
}

// ServerError carries a JSON-RPC error returned by the host.
type ServerError struct {
	ClientError
	Method string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("host error during %s: %s", e.Method, e.ClientError.Error())
}

// NewTransportError creates a new TransportError.
func NewTransportError(transport, message string, cause error) error {
	return &TransportError{
		ClientError: ClientError{Message: message, Cause: cause},
		Transport:   transport,
	}
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(endpoint, message string, cause error) error {
	return &ConnectionError{
		ClientError: ClientError{Message: message, Cause: cause},
		Endpoint:    endpoint,
	}
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, timeout time.Duration, cause error) error {
	return &TimeoutError{
		ClientError: ClientError{
			Message: fmt.Sprintf("operation timed out after %v", timeout),
			Cause:   cause,
		},
		Operation: operation,
		Timeout:   timeout,
	}
}

// NewServerError creates a new ServerError from a JSON-RPC error payload.
func NewServerError(method string, code int, message string) error {
	return &ServerError{
		ClientError: ClientError{Message: message, Code: code},
		Method:      method,
	}
}

// IsTimeoutError reports whether err is a timeout.
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, ErrRequestTimeout)
}

// IsServerError reports whether err carries a JSON-RPC error from the host.
func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr)
}
