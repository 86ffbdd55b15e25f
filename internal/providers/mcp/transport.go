package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/sandevgo/chatd/internal/core"
)

// Dialer opens and initializes a client for one server.
type Dialer = func(ctx context.Context, cfg ServerConfig) (*client.Client, error)

func Dial(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	t, err := cfg.GetTransport()
	if err != nil {
		return nil, err
	}

	var cli *client.Client
	switch t {
	case TransportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cli, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case TransportHTTP:
		cli, err = client.NewStreamableHttpClient(cfg.URL,
			mcptransport.WithHTTPHeaders(cfg.Headers),
			mcptransport.WithHTTPBasicClient(newHTTPClient()),
		)
	case TransportSSE:
		cli, err = client.NewSSEMCPClient(cfg.URL,
			mcptransport.WithHeaders(cfg.Headers),
			mcptransport.WithHTTPClient(newHTTPClient()),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", t, err)
	}

	if err := Initialize(ctx, cli); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// Initialize starts cli and performs the MCP handshake.
func Initialize(ctx context.Context, cli *client.Client) error {
	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	req := mcpproto.InitializeRequest{}
	req.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	req.Params.Capabilities = mcpproto.ClientCapabilities{}
	req.Params.ClientInfo = mcpproto.Implementation{
		Name:    core.AppName,
		Version: core.AppVersion,
	}

	if _, err := cli.Initialize(ctx, req); err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	return nil
}

// newHTTPClient is not shared between servers so one slow server cannot
// starve the others' connections.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
