// Package mcp exposes a read-only introspection surface over stdio MCP,
// adapted from the teacher's internal/mcp: the tool-registration pattern
// (mcp.NewTool + server.AddTool) is kept, the tool set is replaced with
// governor-specific introspection instead of report generation.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
)

// Server wraps the MCP server instance and the collaborators its tools
// read from. Nothing here ever mutates state -- cloaking/restore actions
// flow through the queue via the cloak-intake worker, not through MCP.
type Server struct {
	mcpServer *server.MCPServer
	reg       *registry.Registry
	q         *queue.AdjustmentQueue
}

// NewServer creates an MCP server with registry/queue-backed introspection tools.
func NewServer(version string, reg *registry.Registry, q *queue.AdjustmentQueue) *Server {
	s := server.NewMCPServer("cloakgov", version, server.WithLogging())
	srv := &Server{mcpServer: s, reg: reg, q: q}
	srv.registerTools()
	return srv
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Current governor status: number of supervised processes, how many are cloaked, and pending adjustment queue depth."),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetStatus)

	listTool := mcp.NewTool("list_processes",
		mcp.WithDescription("List every supervised process with its PID, priority, CPU/memory/disk/network/GPU usage, and cloaked flag."),
	)
	s.mcpServer.AddTool(listTool, s.handleListProcesses)

	explainTool := mcp.NewTool("explain_knob",
		mcp.WithDescription("Explain what a resource knob name controls and which adapter applies it. Use list_processes or get_status first if you need current values."),
		mcp.WithString("knob",
			mcp.Required(),
			mcp.Description("Knob name, e.g. cpu_threads, gpu_power_limit_w, network_bandwidth_limit_mbps."),
		),
	)
	s.mcpServer.AddTool(explainTool, s.handleExplainKnob)
}
