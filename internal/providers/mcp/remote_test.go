package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/tools"
	bridge "github.com/sandevgo/chatd/internal/transport/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noKeys struct{}

func (noKeys) GetAPIKey(context.Context, string, core.Provider) (string, bool, error) {
	return "", false, nil
}

// inProcess dials every configured server to a bridge over the builtin tools.
func inProcess(t *testing.T) Dialer {
	t.Helper()
	builtins, err := tools.NewDefaultRegistry()
	require.NoError(t, err)
	b, err := bridge.NewBridge(t.Context(), builtins, noKeys{}, "u1")
	require.NoError(t, err)

	return func(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
		if cfg.Command == "broken" {
			return nil, errors.New("exec: broken not found")
		}
		cli, err := client.NewInProcessClient(b.Server())
		if err != nil {
			return nil, err
		}
		if err := Initialize(ctx, cli); err != nil {
			return nil, err
		}
		return cli, nil
	}
}

func writeConfig(t *testing.T, servers map[string]ServerConfig) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFile)
	require.NoError(t, SaveConfig(path, &Config{MCPServers: servers}))
	return path
}

func TestRemote_LoadRegistersTools(t *testing.T) {
	path := writeConfig(t, map[string]ServerConfig{
		"local":  {Command: "chatd", Args: []string{"mcp"}},
		"off":    {Command: "chatd", Disabled: true},
		"broken": {Command: "broken"},
	})

	registry := tools.NewRegistry()
	remote := NewRemote(path, registry, NewPool(inProcess(t)))
	t.Cleanup(func() { _ = remote.Shutdown(context.Background()) })

	n, err := remote.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"local__current_time", "local__fetch_url", "local__test_tool"}, registry.Names())

	tool, err := registry.Get("local__test_tool")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, tool.Required())

	res, err := tool.Call(t.Context(), map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "bar"}, res)
}

func TestRemote_LoadStopsWhenCancelled(t *testing.T) {
	path := writeConfig(t, map[string]ServerConfig{
		"local":  {Command: "chatd"},
		"broken": {Command: "broken"},
	})
	registry := tools.NewRegistry()
	remote := NewRemote(path, registry, NewPool(inProcess(t)))
	t.Cleanup(func() { _ = remote.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := remote.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, registry.Names())
}

func TestRemote_RemoteFailure(t *testing.T) {
	path := writeConfig(t, map[string]ServerConfig{"local": {Command: "chatd"}})
	registry := tools.NewRegistry()
	remote := NewRemote(path, registry, NewPool(inProcess(t)))

	_, err := remote.Load(t.Context())
	require.NoError(t, err)

	tool, err := registry.Get("local__current_time")
	require.NoError(t, err)
	_, err = tool.Call(t.Context(), map[string]any{"timezone": "Mars/Olympus"})
	var execErr *core.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "remote tool failed")

	require.NoError(t, remote.Shutdown(context.Background()))
	_, err = tool.Call(t.Context(), map[string]any{})
	assert.ErrorContains(t, err, "not available")
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)

	tests := []struct {
		name string
		body string
	}{
		{name: "bad json", body: `{"mcpServers": [`},
		{name: "bad name", body: `{"mcpServers": {"a.b": {"command": "x"}}}`},
		{name: "no transport", body: `{"mcpServers": {"a": {}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestServerConfig_GetTransport(t *testing.T) {
	tests := []struct {
		cfg  ServerConfig
		want TransportType
	}{
		{ServerConfig{Command: "npx"}, TransportStdio},
		{ServerConfig{URL: "http://x/mcp"}, TransportHTTP},
		{ServerConfig{URL: "http://x/sse", SSE: true}, TransportSSE},
	}
	for _, tt := range tests {
		got, err := tt.cfg.GetTransport()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
