package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/debug"
	"github.com/zmcp/bc-mcp/internal/transport"
)

// Tool represents an MCP tool
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// Content is one item of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the body of a tools/call response
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// TextResult wraps text as a successful tool result
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult wraps text as a failed tool result
func ErrorResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// ToolHandler is a function that handles tool execution. A returned error is
// reported to the host as a failed tool result.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*ToolResult, error)

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Server represents an MCP server
type Server struct {
	name            string
	version         string
	protocolVersion string
	tools           map[string]*Tool
	toolOrder       []string
	handlers        map[string]ToolHandler
	transport       transport.Transport
	tracer          *debug.TraceLogger
	logger          zerolog.Logger
	mu              sync.RWMutex
	initialized     bool
}

// NewServer creates a new MCP server
func NewServer(name, version string) *Server {
	return &Server{
		name:            name,
		version:         version,
		protocolVersion: constants.MCPProtocolVersion,
		tools:           make(map[string]*Tool),
		handlers:        make(map[string]ToolHandler),
		logger:          zerolog.Nop(),
	}
}

// SetProtocolVersion sets the MCP protocol version to use
func (s *Server) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
}

// SetLogger sets the diagnostic logger
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// SetTracer records every request and response in the trace file
func (s *Server) SetTracer(tracer *debug.TraceLogger) {
	s.tracer = tracer
}

// AddTool registers a tool, replacing any tool with the same name
func (s *Server) AddTool(tool *Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.toolOrder = append(s.toolOrder, tool.Name)
	}
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
}

// RemoveTool removes a tool from the server
func (s *Server) RemoveTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tools, name)
	delete(s.handlers, name)
	for i, toolName := range s.toolOrder {
		if toolName == name {
			s.toolOrder = append(s.toolOrder[:i], s.toolOrder[i+1:]...)
			break
		}
	}
}

// GetTools returns all registered tools in insertion order
func (s *Server) GetTools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]*Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name])
	}
	return tools
}

// Initialized reports whether the host has sent notifications/initialized
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetTransport sets the transport for the server
func (s *Server) SetTransport(t transport.Transport) {
	s.transport = t
}

// Run serves the transport until its input ends or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if s.transport == nil {
		return errors.New("transport not set")
	}
	return s.transport.Start(ctx)
}

// HandleMessage processes incoming transport messages
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	s.tracer.Log("MCP_REQUEST", msg.Method, map[string]interface{}{
		"id":     msg.ID,
		"params": msg.Params,
	})

	if msg.JSONRPC != "2.0" {
		return s.errorResponse(msg.ID, transport.CodeInvalidRequest, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	switch msg.Method {
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	case "notifications/cancelled":
		return nil, nil
	}

	if msg.IsNotification() {
		s.logger.Debug().Str("method", msg.Method).Msg("Ignoring notification")
		return nil, nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "tools/list":
		return s.handleToolsList(msg)
	case "tools/call":
		return s.handleToolsCall(ctx, msg)
	case "resources/list":
		return s.response(msg.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return s.response(msg.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "ping":
		return s.response(msg.ID, map[string]interface{}{})
	default:
		return s.errorResponse(msg.ID, transport.CodeMethodNotFound, "Method not found", msg.Method), nil
	}
}

func (s *Server) errorResponse(id json.RawMessage, code int, message, data string) *transport.Message {
	raw, _ := json.Marshal(data)
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      transport.ResponseID(id),
		Error: &transport.Error{
			Code:    code,
			Message: message,
			Data:    raw,
		},
	}
}

func (s *Server) response(id json.RawMessage, result interface{}) (*transport.Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      transport.ResponseID(id),
		Result:  resultBytes,
	}, nil
}

func (s *Server) handleInitialize(msg *transport.Message) (*transport.Message, error) {
	s.mu.RLock()
	version := s.protocolVersion
	s.mu.RUnlock()

	return s.response(msg.ID, map[string]interface{}{
		"capabilities": map[string]interface{}{
			"prompts": map[string]interface{}{
				"listChanged": false,
			},
			"resources": map[string]interface{}{
				"listChanged": false,
				"subscribe":   false,
			},
			"tools": map[string]interface{}{
				"listChanged": true,
			},
		},
		"protocolVersion": version,
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	})
}

func (s *Server) handleToolsList(msg *transport.Message) (*transport.Message, error) {
	return s.response(msg.ID, map[string]interface{}{"tools": s.GetTools()})
}

func (s *Server) handleToolsCall(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	var params callParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.errorResponse(msg.ID, transport.CodeInvalidParams, "Invalid params", err.Error()), nil
		}
	}
	if params.Name == "" {
		return s.errorResponse(msg.ID, transport.CodeInvalidParams, "Invalid params", "Missing tool name"), nil
	}
	if params.Arguments == nil {
		params.Arguments = make(map[string]interface{})
	}

	s.mu.RLock()
	handler, exists := s.handlers[params.Name]
	s.mu.RUnlock()
	if !exists {
		return s.errorResponse(msg.ID, transport.CodeInvalidParams, "Invalid params", "Tool not found: "+params.Name), nil
	}

	s.logger.Debug().Str("tool", params.Name).Msg("Calling tool")
	result, err := handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Debug().Err(err).Str("tool", params.Name).Msg("Tool failed")
		result = ErrorResult(constants.ErrorResponsePrefix + err.Error())
	}
	if result == nil {
		result = TextResult("")
	}

	s.tracer.Log("MCP_RESULT", params.Name, map[string]interface{}{
		"id":       msg.ID,
		"is_error": result.IsError,
	})
	return s.response(msg.ID, result)
}

// SendNotification sends a notification through the transport
func (s *Server) SendNotification(method string, params interface{}) error {
	if s.transport == nil {
		return errors.New("transport not set")
	}

	msg := &transport.Message{
		JSONRPC: "2.0",
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		msg.Params = raw
	}
	return s.transport.WriteMessage(msg)
}

// NotifyToolsChanged tells the host to refresh its tool list. It is a no-op
// before the session is initialized.
func (s *Server) NotifyToolsChanged() error {
	if s.transport == nil || !s.Initialized() {
		return nil
	}
	return s.SendNotification("notifications/tools/list_changed", nil)
}
