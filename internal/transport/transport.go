package transport

import (
	"context"
	"encoding/json"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message represents a JSON-RPC message
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsNotification reports whether msg is a request that expects no response
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Transport defines the interface for MCP communication transports
type Transport interface {
	// Start begins reading messages and blocks until the input ends or ctx is done
	Start(ctx context.Context) error

	// WriteMessage writes a message to the transport
	WriteMessage(msg *Message) error

	// Close gracefully shuts down the transport
	Close() error
}

// Handler processes incoming messages and returns responses
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// ResponseID returns id, or 0 when the request carried a null or missing id.
// Some hosts reject responses whose id is null.
func ResponseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}
