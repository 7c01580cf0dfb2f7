package mcpstdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/naman-msft/mcp-dev-tools/internal/usecase"
)

// Server exposes the tool registry over newline-delimited JSON-RPC on a
// reader/writer pair, using mark3labs/mcp-go for the protocol handling.
type Server struct {
	mcp    *mcpGoServer.MCPServer
	logger *slog.Logger
}

// New registers every tool from serveUC on a fresh MCP server whose handlers
// run through invokeUC.
func New(ctx context.Context, name, version string, serveUC *usecase.ServeToolsUseCase, invokeUC *usecase.InvokeToolUseCase, logger *slog.Logger) (*Server, error) {
	s := &Server{
		mcp:    mcpGoServer.NewMCPServer(name, version, mcpGoServer.WithToolCapabilities(false)),
		logger: logger.With("component", "mcpstdio"),
	}

	tools, err := serveUC.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema of %q: %w", tool.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(tool.Name, tool.Description, schema), s.handler(tool.Name, invokeUC))
		s.logger.Debug("Registered tool", slog.String("tool_name", tool.Name))
	}
	s.logger.Info("MCP stdio server ready", slog.Int("tools", len(tools)))
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpGoServer.MCPServer {
	return s.mcp
}

// Listen serves requests from in and writes responses to out until ctx is
// cancelled or in is exhausted.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpGoServer.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("Listening on stdio")
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// handler adapts InvokeToolUseCase to an mcp-go tool handler. Rejected calls
// become tool error results; failures inside a tool surface as protocol errors.
func (s *Server) handler(toolName string, invokeUC *usecase.InvokeToolUseCase) mcpGoServer.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := invokeUC.Execute(ctx, toolName, req.GetArguments())
		switch {
		case err == nil:
			return mcp.NewToolResultText(text), nil
		case errors.Is(err, usecase.ErrInvalidArguments), errors.Is(err, usecase.ErrToolNotFound):
			return mcp.NewToolResultError(err.Error()), nil
		default:
			return nil, fmt.Errorf("tool execution error: %w", err)
		}
	}
}
