package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
)

var (
	openAICaps    = core.Capabilities{Streaming: true, Images: true, Tools: true}
	anthropicCaps = core.Capabilities{Streaming: true, Images: true}
)

// DefaultModels is the set of models offered to clients.
var DefaultModels = []core.ModelInfo{
	{HumanName: "GPT-4o Mini", APIName: "gpt-4o-mini", Provider: core.ProviderOpenAI, RequiresKey: true, Capabilities: openAICaps},
	{HumanName: "GPT-4o", APIName: "gpt-4o", Provider: core.ProviderOpenAI, RequiresKey: true, Capabilities: openAICaps},
	{HumanName: "Claude 3.5 Sonnet", APIName: "claude-3-5-sonnet-20240620", Provider: core.ProviderAnthropic, RequiresKey: true, Capabilities: anthropicCaps},
	{HumanName: "Claude 3 Opus", APIName: "claude-3-opus-20240229", Provider: core.ProviderAnthropic, RequiresKey: true, Capabilities: anthropicCaps},
	{HumanName: "Claude 3 Sonnet", APIName: "claude-3-sonnet-20240229", Provider: core.ProviderAnthropic, RequiresKey: true, Capabilities: anthropicCaps},
	{HumanName: "Claude 3 Haiku", APIName: "claude-3-haiku-20240307", Provider: core.ProviderAnthropic, RequiresKey: true, Capabilities: anthropicCaps},
}

type CatalogEntry struct {
	core.ModelInfo
	UserHasKey   bool            `json:"user_has_key"`
	ConfigSchema json.RawMessage `json:"config_schema"`
}

// Catalog resolves model names and builds adapters for them.
type Catalog struct {
	models   []core.ModelInfo
	byName   map[string]core.ModelInfo
	keys     core.CredentialStore
	baseURLs map[core.Provider]string
}

// NewCatalog serves the given models. baseURLs optionally overrides the API
// endpoint per provider.
func NewCatalog(models []core.ModelInfo, keys core.CredentialStore, baseURLs map[core.Provider]string) *Catalog {
	byName := make(map[string]core.ModelInfo, len(models))
	for _, m := range models {
		byName[m.APIName] = m
	}
	return &Catalog{models: models, byName: byName, keys: keys, baseURLs: baseURLs}
}

func (c *Catalog) Lookup(name string) (core.ModelInfo, error) {
	info, ok := c.byName[name]
	if !ok {
		return core.ModelInfo{}, fmt.Errorf("model %q: %w", name, core.ErrNotFound)
	}
	return info, nil
}

func (c *Catalog) New(ctx context.Context, info core.ModelInfo, apiKey string, cfg ModelConfig, tools []core.ToolDefinition) (core.ChatModel, error) {
	opts := []Option{WithTools(tools)}
	if url := c.baseURLs[info.Provider]; url != "" {
		opts = append(opts, WithBaseURL(url))
	}
	return NewModel(ctx, info, apiKey, cfg, opts...)
}

// List returns every model with the caller's key status and default config.
func (c *Catalog) List(ctx context.Context, userID string) ([]CatalogEntry, error) {
	hasKey := make(map[core.Provider]bool)
	entries := make([]CatalogEntry, 0, len(c.models))

	for _, m := range c.models {
		if _, seen := hasKey[m.Provider]; !seen {
			_, ok, err := c.keys.GetAPIKey(ctx, userID, m.Provider)
			if err != nil {
				return nil, fmt.Errorf("lookup %s key: %w", m.Provider, err)
			}
			hasKey[m.Provider] = ok
		}

		cfg, err := DefaultConfig(m.Provider)
		if err != nil {
			return nil, err
		}
		schema, err := EncodeConfig(cfg)
		if err != nil {
			return nil, err
		}

		entries = append(entries, CatalogEntry{
			ModelInfo:    m,
			UserHasKey:   hasKey[m.Provider],
			ConfigSchema: schema,
		})
	}
	return entries, nil
}

func (c *Catalog) Models() []core.ModelInfo {
	return c.models
}
