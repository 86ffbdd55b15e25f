package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/chatd/pkg/log"
)

type OrchestratorConfig struct {
	MaxToolRounds   int           `env:"CHATD_MAX_TOOL_ROUNDS" envDefault:"8"`
	StreamTimeout   time.Duration `env:"CHATD_STREAM_TIMEOUT" envDefault:"5m"`
	StreamRetention time.Duration `env:"CHATD_STREAM_RETENTION" envDefault:"10m"`
	TitleMaxTokens  int           `env:"CHATD_TITLE_MAX_TOKENS" envDefault:"1024"`
	// TitleEncoding names the tiktoken encoding; empty disables token trimming.
	TitleEncoding string `env:"CHATD_TITLE_ENCODING" envDefault:"cl100k_base"`
}

func NewOrchestratorConfig(ctx context.Context) *OrchestratorConfig {
	c := &OrchestratorConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Orchestrator config")
	}
	return c
}

func (c OrchestratorConfig) GetMaxToolRounds() int           { return c.MaxToolRounds }
func (c OrchestratorConfig) GetStreamTimeout() time.Duration { return c.StreamTimeout }
func (c OrchestratorConfig) GetTitleMaxTokens() int          { return c.TitleMaxTokens }
