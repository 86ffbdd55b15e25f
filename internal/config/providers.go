package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
)

// ProviderConfig overrides remote endpoints, mostly for proxies and tests.
type ProviderConfig struct {
	OpenAIBaseURL    string `env:"CHATD_OPENAI_BASE_URL"`
	AnthropicBaseURL string `env:"CHATD_ANTHROPIC_BASE_URL"`
	SearchURL        string `env:"CHATD_SEARCH_URL" envDefault:"https://api.tavily.com/search"`
}

func NewProviderConfig(ctx context.Context) *ProviderConfig {
	c := &ProviderConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Provider config")
	}
	return c
}

func (c ProviderConfig) BaseURLs() map[core.Provider]string {
	urls := make(map[core.Provider]string)
	if c.OpenAIBaseURL != "" {
		urls[core.ProviderOpenAI] = c.OpenAIBaseURL
	}
	if c.AnthropicBaseURL != "" {
		urls[core.ProviderAnthropic] = c.AnthropicBaseURL
	}
	return urls
}
