package llm

import (
	"context"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
)

// NewModel creates the adapter matching the model's provider.
func NewModel(ctx context.Context, info core.ModelInfo, apiKey string, cfg ModelConfig, opts ...Option) (core.ChatModel, error) {
	log.FromCtx(ctx).Debug().
		Str("provider", string(info.Provider)).
		Str("model", info.APIName).
		Msg("creating chat model")

	switch info.Provider {
	case core.ProviderOpenAI:
		return NewOpenAI(info, apiKey, cfg, opts...)
	case core.ProviderAnthropic:
		return NewAnthropic(info, apiKey, cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", info.Provider)
	}
}
