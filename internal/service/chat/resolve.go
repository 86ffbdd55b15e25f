package chat

import (
	"context"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/pkg/log"
)

// resolved is everything a turn needs to talk to the model.
type resolved struct {
	info    core.ModelInfo
	cfg     llm.ModelConfig
	apiKey  string
	model   core.ChatModel
	toolbox *tools.Toolbox
}

// resolve picks the model and config for msg. The message's own settings
// win; the chat config is used only when it targets the same provider.
func (s *Service) resolve(ctx context.Context, chat core.Chat, userID string, msg core.Message, withTools bool) (*resolved, error) {
	name := msg.Model
	if name == "" {
		name = chat.DefaultModel
	}
	if name == "" {
		name = core.DefaultModel
	}

	info, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	raw := msg.Config
	if len(raw) == 0 && len(chat.Config) > 0 {
		if chatInfo, err := s.models.Lookup(chat.DefaultModel); err == nil && chatInfo.Provider == info.Provider {
			raw = chat.Config
		}
	}

	cfg, err := llm.DecodeConfig(info.Provider, raw)
	if err != nil {
		return nil, err
	}

	if msg.HasImages() && !info.Images {
		return nil, fmt.Errorf("%s does not accept images: %w", info.APIName, core.ErrUnsupportedCapability)
	}

	r := &resolved{info: info, cfg: cfg}

	if info.RequiresKey {
		key, ok, err := s.keys.GetAPIKey(ctx, userID, info.Provider)
		if err != nil {
			return nil, fmt.Errorf("load %s key: %w", info.Provider, err)
		}
		if !ok {
			return nil, fmt.Errorf("no %s key configured: %w", info.Provider, core.ErrMissingCredential)
		}
		r.apiKey = key
	}

	var defs []core.ToolDefinition
	if names := cfg.ToolNames(); withTools && len(names) > 0 {
		if !info.Tools {
			return nil, fmt.Errorf("%s does not support tools: %w", info.APIName, core.ErrUnsupportedCapability)
		}
		r.toolbox, err = s.tools.Toolbox(ctx, userID, s.keys, names)
		if err != nil {
			return nil, err
		}
		defs = r.toolbox.Definitions()
	}

	r.model, err = s.models.New(ctx, info, r.apiKey, cfg, defs)
	if err != nil {
		return nil, err
	}

	log.FromCtx(ctx).Debug().
		Str("model", info.APIName).
		Int("tools", len(defs)).
		Msg("resolved model for turn")

	return r, nil
}

// titleModel is the same model without tools.
func (s *Service) titleModel(ctx context.Context, r *resolved) (core.ChatModel, error) {
	if r.toolbox.Empty() {
		return r.model, nil
	}
	return s.models.New(ctx, r.info, r.apiKey, r.cfg, nil)
}
