package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
)

type OpenAI struct {
	info     core.ModelInfo
	cfg      *OpenAIConfig
	snapshot json.RawMessage
	client   openai.Client
	tools    []openai.ChatCompletionToolParam
}

// NewOpenAI builds a Chat Completions adapter. A nil cfg selects the defaults.
func NewOpenAI(info core.ModelInfo, apiKey string, cfg ModelConfig, opts ...Option) (*OpenAI, error) {
	if cfg == nil {
		cfg = DefaultOpenAIConfig()
	}
	c, ok := cfg.(*OpenAIConfig)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an openai config, got %T", core.ErrInvalidConfiguration, info.APIName, cfg)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if info.RequiresKey && apiKey == "" {
		return nil, fmt.Errorf("%w: %s requires an %s API key", core.ErrMissingCredential, info.APIName, info.Provider)
	}

	o := collectOptions(opts)
	if len(o.tools) > 0 && !info.Tools {
		return nil, fmt.Errorf("%w: %s does not support tools", core.ErrUnsupportedCapability, info.APIName)
	}

	snapshot, err := EncodeConfig(c)
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(o.httpClient),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	return &OpenAI{
		info:     info,
		cfg:      c,
		snapshot: snapshot,
		client:   openai.NewClient(reqOpts...),
		tools:    openAITools(o.tools),
	}, nil
}

func (m *OpenAI) Info() core.ModelInfo {
	return m.info
}

func (m *OpenAI) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	params, err := m.params(history)
	if err != nil {
		return core.Message{}, err
	}
	if len(m.tools) > 0 {
		params.Tools = m.tools
	}

	log.FromCtx(ctx).Debug().
		Str("model", m.info.APIName).
		Int("messages", len(params.Messages)).
		Int("tools", len(params.Tools)).
		Msg("openai chat request")

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return core.Message{}, openAIError(err)
	}
	return m.toMessage(resp)
}

// ChatStream never offers tools: the stream carries text only.
func (m *OpenAI) ChatStream(ctx context.Context, history []core.Message) (core.Stream, error) {
	if !m.info.Streaming {
		return nil, fmt.Errorf("%w: %s does not support streaming", core.ErrUnsupportedCapability, m.info.APIName)
	}
	params, err := m.params(history)
	if err != nil {
		return nil, err
	}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	return newFragmentStream[openai.ChatCompletionChunk](stream, openAIDelta, openAIError), nil
}

func (m *OpenAI) params(history []core.Message) (openai.ChatCompletionNewParams, error) {
	msgs, err := m.messages(history)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	return openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(m.info.APIName),
		Messages:            msgs,
		FrequencyPenalty:    openai.Float(m.cfg.FrequencyPenalty.Val),
		MaxCompletionTokens: openai.Int(m.cfg.MaxCompletionTokens.Val),
		PresencePenalty:     openai.Float(m.cfg.PresencePenalty.Val),
		Temperature:         openai.Float(m.cfg.Temperature.Val),
		TopP:                openai.Float(m.cfg.TopP.Val),
	}, nil
}

func (m *OpenAI) messages(history []core.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))

	for _, msg := range history {
		switch msg.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))

		case core.RoleUser:
			parts, err := m.userParts(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, openai.UserMessage(parts))

		case core.RoleAssistant:
			wire, err := openAIAssistant(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, wire...)

		case core.RoleTool:
			// Every result is its own top-level tool message.
			for _, c := range msg.Contents {
				res, ok := c.(core.ToolResult)
				if !ok {
					return nil, fmt.Errorf("openai: %s content in a tool message", c.Type())
				}
				payload, err := json.Marshal(res.Result)
				if err != nil {
					return nil, fmt.Errorf("openai: encode tool result: %w", err)
				}
				out = append(out, openai.ToolMessage(string(payload), res.CallID))
			}

		default:
			return nil, fmt.Errorf("openai: unknown role %q", msg.Role)
		}
	}
	return out, nil
}

func (m *OpenAI) userParts(msg core.Message) ([]openai.ChatCompletionContentPartUnionParam, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Contents))

	for _, c := range msg.Contents {
		switch v := c.(type) {
		case core.Text:
			parts = append(parts, openai.TextContentPart(v.Text))
		case core.Image:
			if !m.info.Images {
				return nil, fmt.Errorf("%w: %s does not accept images", core.ErrUnsupportedCapability, m.info.APIName)
			}
			url, err := imageDataURL(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    url,
				Detail: m.cfg.ImageDetail.Val,
			}))
		case core.File:
			text, err := fileText(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, openai.TextContentPart(text))
		case core.ToolCall, core.ToolResult:
			return nil, fmt.Errorf("openai: %s content in a user message", c.Type())
		default:
			return nil, fmt.Errorf("openai: unknown content %T", c)
		}
	}
	return parts, nil
}

// openAIAssistant splits text and tool calls into two consecutive wire
// messages, text first.
func openAIAssistant(msg core.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var (
		text  strings.Builder
		calls []openai.ChatCompletionMessageToolCallParam
	)

	for _, c := range msg.Contents {
		switch v := c.(type) {
		case core.Text:
			text.WriteString(v.Text)
		case core.ToolCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("openai: encode tool call args: %w", err)
			}
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID: v.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      v.Name,
					Arguments: string(raw),
				},
			})
		case core.Image, core.File, core.ToolResult:
			return nil, fmt.Errorf("openai: %s content in an assistant message", c.Type())
		default:
			return nil, fmt.Errorf("openai: unknown content %T", c)
		}
	}

	var out []openai.ChatCompletionMessageParamUnion
	if text.Len() > 0 {
		out = append(out, openai.AssistantMessage(text.String()))
	}
	if len(calls) > 0 {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls},
		})
	}
	return out, nil
}

func (m *OpenAI) toMessage(resp *openai.ChatCompletion) (core.Message, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return core.Message{}, core.ErrNoCompletionContent
	}
	choice := resp.Choices[0]
	b := core.NewMessage(core.RoleAssistant).Model(m.info.APIName).Config(m.snapshot)

	switch choice.FinishReason {
	case "stop", "length":
		if choice.Message.Content == "" {
			return core.Message{}, core.ErrNoCompletionContent
		}
		b.Text(choice.Message.Content)

	case "tool_calls":
		if len(choice.Message.ToolCalls) == 0 {
			return core.Message{}, &core.ProtocolError{Provider: core.ProviderOpenAI, Reason: "tool_calls finish without tool calls"}
		}
		if choice.Message.Content != "" {
			b.Text(choice.Message.Content)
		}
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return core.Message{}, &core.ProtocolError{
						Provider: core.ProviderOpenAI,
						Reason:   fmt.Sprintf("tool call %s arguments: %v", tc.ID, err),
					}
				}
			}
			b.ToolCall(tc.ID, tc.Function.Name, args)
		}

	default:
		return core.Message{}, &core.ProtocolError{
			Provider: core.ProviderOpenAI,
			Reason:   fmt.Sprintf("unexpected finish reason %q", choice.FinishReason),
		}
	}
	return b.Build(), nil
}

func openAIDelta(chunk openai.ChatCompletionChunk) (string, error) {
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	choice := chunk.Choices[0]
	switch choice.FinishReason {
	case "", "stop", "length":
	default:
		return "", &core.ProtocolError{
			Provider: core.ProviderOpenAI,
			Reason:   fmt.Sprintf("unexpected finish reason %q", choice.FinishReason),
		}
	}
	return choice.Delta.Content, nil
}

func openAITools(defs []core.ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &core.ProviderError{
			Provider:   core.ProviderOpenAI,
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
		}
	}
	return fmt.Errorf("openai request: %w", err)
}
