package llm

import (
	"net/http"

	"github.com/sandevgo/chatd/internal/core"
)

type options struct {
	baseURL    string
	httpClient *http.Client
	tools      []core.ToolDefinition
}

type Option func(*options)

// WithBaseURL points the adapter at an API-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTools offers tool definitions to the model in synchronous calls.
func WithTools(defs []core.ToolDefinition) Option {
	return func(o *options) { o.tools = defs }
}

func collectOptions(opts []Option) options {
	// No client timeout: streams outlive any fixed limit, deadlines come from ctx.
	o := options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
