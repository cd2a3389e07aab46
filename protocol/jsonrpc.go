// Package protocol defines the JSON-RPC 2.0 structures and constants used by
// the calcmcp tool-calling protocol.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrorPayload defines the structure of the 'error' object within a JSON-RPC
// error response.
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONRPCRequest represents a standard JSON-RPC request object.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // MUST be "2.0"
	ID      interface{} `json:"id"`      // Request ID (string or number)
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// JSONRPCResponse represents a standard JSON-RPC response object.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"` // Mirrors the request ID (null if unknown)
	Result  interface{}   `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// JSONRPCNotification represents a standard JSON-RPC notification object.
// Notifications MUST NOT carry an 'id' field.
type JSONRPCNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewRequest creates a new JSON-RPC request object.
func NewRequest(id interface{}, method string, params interface{}) *JSONRPCRequest {
	return &JSONRPCRequest{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification creates a new JSON-RPC notification object.
func NewNotification(method string, params interface{}) *JSONRPCNotification {
	return &JSONRPCNotification{JSONRPC: Version, Method: method, Params: params}
}

// NewSuccessResponse creates a new JSON-RPC success response object.
func NewSuccessResponse(id interface{}, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse creates a new JSON-RPC error response object. The id may be
// nil when the error occurred before the request ID could be parsed.
func NewErrorResponse(id interface{}, code ErrorCode, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorPayload{Code: code, Message: message},
	}
}

// UnmarshalPayload unmarshals a params or result field into the struct pointed
// to by target. The payload may be a json.RawMessage or an already-decoded
// value that needs re-marshalling. Numbers are preserved as json.Number so that
// integer and floating-point inputs remain distinguishable.
func UnmarshalPayload(payload interface{}, target interface{}) error {
	if payload == nil {
		return fmt.Errorf("payload is nil, cannot unmarshal")
	}
	var payloadBytes []byte
	switch p := payload.(type) {
	case json.RawMessage:
		payloadBytes = p
	case []byte:
		payloadBytes = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to re-marshal payload (type %T): %w", payload, err)
		}
		payloadBytes = b
	}
	if len(bytes.TrimSpace(payloadBytes)) == 0 || string(payloadBytes) == "null" {
		return fmt.Errorf("payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(payloadBytes))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to unmarshal payload into %T: %w", target, err)
	}
	return nil
}
