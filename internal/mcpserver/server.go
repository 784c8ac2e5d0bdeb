// Package mcpserver exposes the search job service as Model Context
// Protocol tools over stdio.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/FranksOps/sift/internal/runner"
)

// Name is the server name announced during initialization.
const Name = "sift"

// Server registers the search tools on an MCP server.
type Server struct {
	svc    *runner.Service
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New creates a server for svc. Logs must go to a writer other than the
// protocol stream.
func New(svc *runner.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
	}
	s.mcp = server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.mcp.AddTool(startSearchTool(svc.MaxLimit()), s.handleStartSearch)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(cancelSearchTool(), s.handleCancel)
	s.mcp.AddTool(listPlatformsTool(), s.handleListPlatforms)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks the protocol over in/out until ctx is cancelled or in is
// closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening on stdio", "tools", 4)
	return stdio.Listen(ctx, in, out)
}
