package mcp

import "fmt"

type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
	TransportStdio TransportType = "stdio"
)

// ConfigFile is the name of the server list under the runtime path.
const ConfigFile = "mcp.json"

type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig is one entry of mcp.json.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// SSE selects the legacy SSE transport for URL servers.
	SSE bool `json:"sse,omitempty"`
	// Disabled servers stay in the file but are not connected.
	Disabled bool `json:"disabled,omitempty"`
}

func (c *ServerConfig) GetTransport() (TransportType, error) {
	switch {
	case c.URL != "" && c.SSE:
		return TransportSSE, nil
	case c.URL != "":
		return TransportHTTP, nil
	case c.Command != "":
		return TransportStdio, nil
	}
	return "", fmt.Errorf("invalid config: neither url nor command provided")
}
