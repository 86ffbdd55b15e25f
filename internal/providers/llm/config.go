package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
)

// ModelConfig is the per-provider bag of validated request parameters.
type ModelConfig interface {
	Provider() core.Provider
	Validate() error
	// ToolNames lists the tools to offer the model. Providers without tool
	// support return nil.
	ToolNames() []string
}

var imageDetails = []string{"auto", "low", "high"}

type OpenAIConfig struct {
	FrequencyPenalty    RangedFloat    `json:"frequency_penalty"`
	MaxCompletionTokens RangedInt      `json:"max_completion_tokens"`
	PresencePenalty     RangedFloat    `json:"presence_penalty"`
	Temperature         RangedFloat    `json:"temperature"`
	TopP                RangedFloat    `json:"top_p"`
	ImageDetail         OptionedString `json:"image_detail"`
	Tools               []string       `json:"tools"`
}

func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		FrequencyPenalty:    mustRanged(Bound(-2.0), Bound(2.0), 0),
		MaxCompletionTokens: mustRanged(Bound[int64](1), nil, 1024),
		PresencePenalty:     mustRanged(Bound(-2.0), Bound(2.0), 0),
		Temperature:         mustRanged(Bound(0.0), Bound(2.0), 1),
		TopP:                mustRanged(Bound(0.0), Bound(1.0), 1),
		ImageDetail:         OptionedString{Options: imageDetails, Val: "auto"},
		Tools:               []string{},
	}
}

func (c *OpenAIConfig) Provider() core.Provider { return core.ProviderOpenAI }

func (c *OpenAIConfig) ToolNames() []string { return c.Tools }

func (c *OpenAIConfig) Validate() error {
	for name, err := range map[string]error{
		"frequency_penalty":     c.FrequencyPenalty.Validate(),
		"max_completion_tokens": c.MaxCompletionTokens.Validate(),
		"presence_penalty":      c.PresencePenalty.Validate(),
		"temperature":           c.Temperature.Validate(),
		"top_p":                 c.TopP.Validate(),
		"image_detail":          c.ImageDetail.Validate(),
	} {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

type AnthropicConfig struct {
	MaxTokens   RangedInt   `json:"max_tokens"`
	Temperature RangedFloat `json:"temperature"`
	TopK        RangedInt   `json:"top_k"`
	TopP        RangedFloat `json:"top_p"`
}

func DefaultAnthropicConfig() *AnthropicConfig {
	return &AnthropicConfig{
		MaxTokens:   mustRanged(Bound[int64](1), nil, 1024),
		Temperature: mustRanged(Bound(0.0), Bound(1.0), 1),
		TopK:        NewOptionalRanged(Bound[int64](1), nil),
		TopP:        NewOptionalRanged(Bound(0.0), Bound(1.0)),
	}
}

func (c *AnthropicConfig) Provider() core.Provider { return core.ProviderAnthropic }

func (c *AnthropicConfig) ToolNames() []string { return nil }

func (c *AnthropicConfig) Validate() error {
	for name, err := range map[string]error{
		"max_tokens":  c.MaxTokens.Validate(),
		"temperature": c.Temperature.Validate(),
		"top_k":       c.TopK.Validate(),
		"top_p":       c.TopP.Validate(),
	} {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func DefaultConfig(provider core.Provider) (ModelConfig, error) {
	switch provider {
	case core.ProviderOpenAI:
		return DefaultOpenAIConfig(), nil
	case core.ProviderAnthropic:
		return DefaultAnthropicConfig(), nil
	default:
		return nil, fmt.Errorf("%w: no model config for provider %q", core.ErrInvalidConfiguration, provider)
	}
}

// DecodeConfig overlays raw values on the provider defaults. Empty input
// yields the defaults; unknown fields are rejected.
func DecodeConfig(provider core.Provider, raw json.RawMessage) (ModelConfig, error) {
	cfg, err := DefaultConfig(provider)
	if err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", core.ErrInvalidConfiguration, provider, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func EncodeConfig(cfg ModelConfig) (json.RawMessage, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.Provider(), err)
	}
	return data, nil
}

func mustRanged[T Number](lo, hi *T, val T) Ranged[T] {
	r, err := NewRanged(lo, hi, val)
	if err != nil {
		panic(err)
	}
	return r
}
