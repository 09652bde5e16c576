package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"describe_capabilities": {
		def:     describeCapabilitiesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDescribeCapabilities },
	},
	"brapi_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"brapi_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"brapi_aggregate": {
		def:     aggregateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAggregate },
	},
	"download_images": {
		def:     downloadImagesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadImages },
	},
	"list_results": {
		def:     listResultsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListResults },
	},
	"result_summary": {
		def:     resultSummaryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleResultSummary },
	},
	"load_result": {
		def:     loadResultToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLoadResult },
	},
	"delete_result": {
		def:     deleteResultToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDeleteResult },
	},
	"list_sessions": {
		def:     listSessionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListSessions },
	},
	"download_link": {
		def:     downloadLinkToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadLink },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with all tools registered.
// Tools listed in the handlers' config DisabledTools are excluded.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"brapi-mcp",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool, len(h.cfg.DisabledTools))
	for _, name := range h.cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(h *Handlers, version string) error {
	s := NewServer(h, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
