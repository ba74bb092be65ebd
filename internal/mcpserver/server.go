package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/claude-flow/core/internal/logging"
)

// Server wraps a real MCP protocol server (for stdio and the /mcp
// passthrough transport) and exposes the same ToolSpec registry through a
// hand-rolled JSON-RPC dispatcher for the /rpc and /ws transports, so every
// transport calls the identical set of Handler functions.
type Server struct {
	mcp        *server.MCPServer
	streamable *server.StreamableHTTPServer
	dispatcher *Dispatcher
	log        *logging.Logger
}

// New builds a Server from the kernel components tools are grounded on.
func New(deps Dependencies, log *logging.Logger) *Server {
	tools := BuildTools(deps)

	mcpServer := server.NewMCPServer(
		"claude-flow-kernel",
		"3.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("Task orchestration kernel: create tasks, spawn agents, coordinate swarms, and read/write shared memory."),
	)
	for _, spec := range tools {
		mcpServer.AddTool(toMCPTool(spec), toMCPHandler(spec, log))
	}

	return &Server{
		mcp:        mcpServer,
		streamable: server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp")),
		dispatcher: NewDispatcher(tools, log),
		log:        log,
	}
}

// ServeStdio runs the stdio MCP transport until mcp-go's ServeStdio returns
// (for example when stdin closes). It blocks the calling goroutine. ctx is
// not passed to the transport, so cancelling it does not stop the server.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// StreamableHTTPHandler is mounted at /mcp for clients speaking the
// Streamable HTTP MCP transport directly.
func (s *Server) StreamableHTTPHandler() *server.StreamableHTTPServer {
	return s.streamable
}

// Dispatch handles one decoded JSON-RPC request or batch for /rpc and /ws.
func (s *Server) Dispatch(ctx context.Context, raw []byte) []byte {
	return s.dispatcher.Handle(ctx, raw)
}

func toMCPTool(spec ToolSpec) mcp.Tool {
	return mcp.NewTool(spec.Name, mcp.WithDescription(spec.Description))
}

func toMCPHandler(spec ToolSpec, log *logging.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		result, err := spec.Handler(ctx, args)
		if err != nil {
			log.WithError(err).Warn("tool call failed", zap.String("tool", spec.Name))
			return mcp.NewToolResultError(err.Error()), nil
		}
		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
