// Package tools provides tool registration, dispatch, and MCP (Model Context
// Protocol) integration.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/agentloop/pkg/tools/toolbox]: Definition, Handler and the ToolBox registry that validates and dispatches tool calls
//   - [github.com/germanamz/agentloop/pkg/tools/mcpclient]: MCP client that imports remote tools into a ToolBox
//   - [github.com/germanamz/agentloop/pkg/tools/mcpserver]: MCP server that exposes a ToolBox over the MCP protocol
//
// The toolbox sub-package is the foundation layer. Both mcpclient and mcpserver
// depend on toolbox but are independent of each other. They are thin wrappers
// around the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
package tools
