package mcpjsonrpc

import "encoding/json"

// Based on JSON-RPC 2.0 Specification: https://www.jsonrpc.org/specification

// Version is the only JSON-RPC version accepted and emitted.
const Version = "2.0"

// Request represents a JSON-RPC request object.
type Request struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Method  string          `json:"method"`           // Method to be invoked
	Params  json.RawMessage `json:"params,omitempty"` // Parameters (structured value)
	ID      json.RawMessage `json:"id,omitempty"`     // Request identifier (string, number, or null), echoed verbatim
}

// IsNotification reports whether the request carried no "id" member at all.
// An explicit null id is still a request that expects a response.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC response object.
// Exactly one of Result and Error is set; use NewResult and NewError to build one.
type Response struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	ID      json.RawMessage `json:"id"`               // Must match request ID (or null if could not be determined)
	Result  interface{}     `json:"result,omitempty"` // Required on success
	Error   *Error          `json:"error,omitempty"`  // Required on error
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional data about the error
}

// Error codes (JSON-RPC spec plus the MCP lifecycle codes used by this server)
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// -32000 to -32099: Server error (implementation-defined)
	CodeUnauthorized   = -32001
	CodeNotInitialized = -32002
)

// NewResult builds a success envelope. A nil result is replaced by an empty
// object so the envelope never ends up with neither field set.
func NewResult(id json.RawMessage, result interface{}) Response {
	if result == nil {
		result = struct{}{}
	}
	return Response{Version: Version, ID: id, Result: result}
}

// NewError builds an error envelope.
func NewError(id json.RawMessage, code int, message string) Response {
	return Response{Version: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// CallToolParams defines the structure of the "params" field for "tools/call".
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// InitializeParams defines the structure of the "params" field for "initialize".
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      *Implementation        `json:"clientInfo,omitempty"`
}

// Implementation names a client or server and its version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of a successful "initialize".
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      Implementation         `json:"serverInfo"`
}

// Content is a single item in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result of a successful "tools/call".
type CallToolResult struct {
	Content []Content `json:"content"`
}

// NewTextResult wraps a tool's textual output.
func NewTextResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}
