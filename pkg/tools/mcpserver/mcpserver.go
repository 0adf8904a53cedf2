// Package mcpserver exposes the tools of a toolbox over the MCP protocol so
// other MCP clients can call them.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer serves tools over the MCP protocol using the official MCP Go SDK.
type MCPServer struct {
	server *mcp.Server
}

// New creates a new MCPServer with the given name and version.
func New(name, version string) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	return &MCPServer{server: server}
}

// Mount adds every tool of tb to the server. Calls go through tb.Dispatch,
// so schema validation and the per-invocation timeout apply as they do for
// the reasoning loop.
func (s *MCPServer) Mount(tb *toolbox.ToolBox) {
	for _, def := range tb.Definitions() {
		s.server.AddTool(toSDKTool(def), toSDKHandler(tb, def.Name))
	}
}

// Serve starts serving MCP requests. It reads requests from in and writes
// responses to out. It blocks until ctx is cancelled or the transport closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// run starts the server with the given transport. Exported via Serve for
// production use; called directly by tests with InMemoryTransport.
func (s *MCPServer) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// toSDKTool converts a toolbox.Definition to an SDK *mcp.Tool.
func toSDKTool(def toolbox.Definition) *mcp.Tool {
	schema := def.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return &mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schema,
	}
}

// toSDKHandler routes an SDK tool call to the named toolbox tool. Failures
// are reported as error results rather than protocol errors.
func toSDKHandler(tb *toolbox.ToolBox, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		result := tb.Dispatch(ctx, content.ToolCall{ID: name, Name: name, Input: args})
		if result.IsError() {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: result.Error.Message}},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result.Text()}},
		}, nil
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
