// Package mcp exposes the decision pipeline as Model Context Protocol tools,
// so agents can ask for a gated recommendation, report what happened, and
// trigger a retune without going through the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/storage"
)

// Decider runs one decision.
type Decider interface {
	Decide(ctx context.Context, req model.DecisionRequest) (model.EnrichedDecision, error)
}

// Retuner recomputes the tuning config.
type Retuner interface {
	Retune(ctx context.Context) (model.TuningConfig, error)
}

// Server wraps the MCP server with Kairo's pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     storage.Store
	decider   Decider
	retuner   Retuner
	logger    *slog.Logger
	now       func() time.Time
}

// New creates and configures an MCP server with all tools, resources and prompts.
func New(store storage.Store, decider Decider, retuner Retuner, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:   store,
		decider: decider,
		retuner: retuner,
		logger:  logger,
		now:     time.Now,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kairo",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
