package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/chatd/pkg/log"
)

type ServerConfig struct {
	ListenAddr string `env:"CHATD_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	// RateLimit is requests per second per token; zero disables limiting.
	RateLimit      float64  `env:"CHATD_RATE_LIMIT" envDefault:"5"`
	RateBurst      int      `env:"CHATD_RATE_BURST" envDefault:"20"`
	MaxUploadMB    int64    `env:"CHATD_MAX_UPLOAD_MB" envDefault:"20"`
	AllowedOrigins []string `env:"CHATD_ALLOWED_ORIGINS" envSeparator:","`
}

func NewServerConfig(ctx context.Context) *ServerConfig {
	c := &ServerConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Server config")
	}
	return c
}
