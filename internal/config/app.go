package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/chatd/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"CHATD_RUNTIME_PATH" envDefault:".chatd"`
	Debug       bool   `env:"CHATD_DEBUG" envDefault:"false"`
	JSONLogs    bool   `env:"CHATD_JSON_LOGS" envDefault:"false"`

	// Owners of system prompts and model replies.
	SystemEmail    string `env:"CHATD_SYSTEM_EMAIL" envDefault:"system@chatd.local"`
	AssistantEmail string `env:"CHATD_ASSISTANT_EMAIL" envDefault:"assistant@chatd.local"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := LoadAppConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func LoadAppConfig() (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		return nil, err
	}
	c.RuntimePath = resolveRuntimePath(c.RuntimePath)
	return c, nil
}

func (c AppConfig) GetRuntimePath() string {
	return c.RuntimePath
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "chatd.db")
}

func (c AppConfig) GetUploadsPath() string {
	return filepath.Join(c.RuntimePath, "uploads")
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.RuntimePath, ".env")
}
