// Package mcp serves the tool registry to MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/pkg/log"
)

// Bridge exposes one user's toolbox as an MCP server. Tools that need a
// credential the user has not stored are left out.
type Bridge struct {
	server *server.MCPServer
	box    *tools.Toolbox
	names  []string
}

func NewBridge(ctx context.Context, registry *tools.Registry, keys core.CredentialStore, userID string) (*Bridge, error) {
	box, err := registry.Toolbox(ctx, userID, keys, registry.Names())
	if err != nil {
		return nil, fmt.Errorf("build toolbox: %w", err)
	}

	b := &Bridge{
		server: server.NewMCPServer(core.AppName, core.AppVersion, server.WithToolCapabilities(false)),
		box:    box,
	}

	for _, def := range box.Definitions() {
		schema, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("encode %s schema: %w", def.Name, err)
		}
		b.server.AddTool(mcpproto.NewToolWithRawSchema(def.Name, def.Description, schema), b.handle(def.Name))
		b.names = append(b.names, def.Name)
	}

	return b, nil
}

func (b *Bridge) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		call := core.ToolCall{ID: uuid.NewString(), Name: name, Args: req.GetArguments()}

		res, err := b.box.Invoke(ctx, call)
		if err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("tool", name).Msg("mcp tool call failed")
			return mcpproto.NewToolResultError(err.Error()), nil
		}

		raw, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", name, err)
		}
		return mcpproto.NewToolResultText(string(raw)), nil
	}
}

// Tools lists the names served.
func (b *Bridge) Tools() []string {
	return b.names
}

func (b *Bridge) Server() *server.MCPServer {
	return b.server
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(b.server).Listen(ctx, in, out)
}
