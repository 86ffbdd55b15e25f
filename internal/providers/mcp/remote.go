package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/pkg/log"
	"golang.org/x/sync/errgroup"
)

// ToolSeparator joins the server and tool name of a remote tool.
const ToolSeparator = "__"

type Timeouts struct {
	Connect  time.Duration
	ToolList time.Duration
	ToolCall time.Duration
}

func NewDefaultTimeouts() *Timeouts {
	return &Timeouts{
		Connect:  30 * time.Second,
		ToolList: 5 * time.Second,
		ToolCall: 2 * time.Minute,
	}
}

// Remote connects the MCP servers listed in mcp.json and registers their
// tools as "<server>__<tool>".
type Remote struct {
	path     string
	registry *tools.Registry
	pool     *Pool
	timeouts *Timeouts
}

func NewRemote(path string, registry *tools.Registry, pool *Pool) *Remote {
	if pool == nil {
		pool = NewPool(nil)
	}
	return &Remote{path: path, registry: registry, pool: pool, timeouts: NewDefaultTimeouts()}
}

// Load connects every enabled server in parallel and returns the number of
// tools registered. A server that cannot be reached is logged and skipped.
func (r *Remote) Load(ctx context.Context) (int, error) {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		return 0, err
	}

	var (
		mu    sync.Mutex
		found []*tools.Tool
	)

	// Unreachable servers are skipped; only cancellation of ctx aborts the load.
	var g errgroup.Group
	for _, name := range slices.Sorted(maps.Keys(cfg.MCPServers)) {
		srv := cfg.MCPServers[name]
		if srv.Disabled {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger := log.FromCtx(ctx).With().Str("server", name).Logger()

			list, err := r.connect(ctx, name, srv)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Error().Err(err).Msg("mcp server unavailable")
				return nil
			}
			logger.Info().Int("tools", len(list)).Msg("mcp server connected")

			mu.Lock()
			found = append(found, list...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	slices.SortFunc(found, func(a, b *tools.Tool) int { return strings.Compare(a.Name(), b.Name()) })
	if err := r.registry.Register(found...); err != nil {
		return 0, err
	}
	return len(found), nil
}

func (r *Remote) connect(ctx context.Context, name string, cfg ServerConfig) ([]*tools.Tool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, r.timeouts.Connect)
	defer cancel()

	cli, err := r.pool.Add(connectCtx, name, cfg)
	if err != nil {
		return nil, err
	}

	listCtx, cancelList := context.WithTimeout(ctx, r.timeouts.ToolList)
	defer cancelList()

	resp, err := cli.ListTools(listCtx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	out := make([]*tools.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schema, err := inputSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		tool, err := tools.NewRemote(name+ToolSeparator+t.Name, t.Description, schema, r.caller(name, t.Name))
		if err != nil {
			return nil, err
		}
		out = append(out, tool)
	}
	return out, nil
}

func inputSchema(t mcpproto.Tool) (map[string]any, error) {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(t.InputSchema); err != nil {
			return nil, err
		}
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema, nil
}

func (r *Remote) caller(server, tool string) tools.RemoteFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		cli, ok := r.pool.Get(server)
		if !ok {
			return nil, fmt.Errorf("server %s is not available", server)
		}

		req := mcpproto.CallToolRequest{}
		req.Params.Name = tool
		req.Params.Arguments = args

		callCtx, cancel := context.WithTimeout(ctx, r.timeouts.ToolCall)
		defer cancel()

		res, err := cli.CallTool(callCtx, req)
		if err != nil {
			return nil, err
		}

		text := contentText(res)
		if res.IsError {
			return nil, fmt.Errorf("remote tool failed: %s", text)
		}

		var obj map[string]any
		if json.Unmarshal([]byte(text), &obj) == nil {
			return obj, nil
		}
		return text, nil
	}
}

func contentText(res *mcpproto.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch c := content.(type) {
		case mcpproto.TextContent:
			parts = append(parts, c.Text)
		case *mcpproto.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Start idles until ctx is done; the pool is closed on Shutdown.
func (r *Remote) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (r *Remote) Shutdown(context.Context) error {
	return r.pool.Close()
}
