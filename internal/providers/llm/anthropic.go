package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
)

type Anthropic struct {
	info     core.ModelInfo
	cfg      *AnthropicConfig
	snapshot json.RawMessage
	client   anthropic.Client
}

// NewAnthropic builds a Messages API adapter. A nil cfg selects the defaults.
func NewAnthropic(info core.ModelInfo, apiKey string, cfg ModelConfig, opts ...Option) (*Anthropic, error) {
	if cfg == nil {
		cfg = DefaultAnthropicConfig()
	}
	c, ok := cfg.(*AnthropicConfig)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an anthropic config, got %T", core.ErrInvalidConfiguration, info.APIName, cfg)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if info.RequiresKey && apiKey == "" {
		return nil, fmt.Errorf("%w: %s requires an %s API key", core.ErrMissingCredential, info.APIName, info.Provider)
	}

	o := collectOptions(opts)
	if len(o.tools) > 0 {
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

	return &Anthropic{
		info:     info,
		cfg:      c,
		snapshot: snapshot,
		client:   anthropic.NewClient(reqOpts...),
	}, nil
}

func (m *Anthropic) Info() core.ModelInfo {
	return m.info
}

func (m *Anthropic) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	params, err := m.params(history)
	if err != nil {
		return core.Message{}, err
	}

	log.FromCtx(ctx).Debug().
		Str("model", m.info.APIName).
		Int("messages", len(params.Messages)).
		Msg("anthropic chat request")

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return core.Message{}, anthropicError(err)
	}
	return m.toMessage(resp)
}

func (m *Anthropic) ChatStream(ctx context.Context, history []core.Message) (core.Stream, error) {
	if !m.info.Streaming {
		return nil, fmt.Errorf("%w: %s does not support streaming", core.ErrUnsupportedCapability, m.info.APIName)
	}
	params, err := m.params(history)
	if err != nil {
		return nil, err
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	return newFragmentStream[anthropic.MessageStreamEventUnion](stream, anthropicDelta, anthropicError), nil
}

func (m *Anthropic) params(history []core.Message) (anthropic.MessageNewParams, error) {
	system, msgs, used, err := m.messages(history)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.info.APIName),
		MaxTokens:   m.cfg.MaxTokens.Val,
		Messages:    msgs,
		Temperature: anthropic.Float(m.cfg.Temperature.Val),
	}
	if k, ok := m.cfg.TopK.Get(); ok {
		params.TopK = anthropic.Int(k)
	}
	if p, ok := m.cfg.TopP.Get(); ok {
		params.TopP = anthropic.Float(p)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(used) > 0 {
		params.Tools = historyTools(used)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	}
	return params, nil
}

// historyTools declares the tools referenced by past tool_use blocks. The API
// refuses tool blocks without definitions; tool_choice none keeps the model
// from calling them again.
func historyTools(names []string) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(names))
	for _, name := range names {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]any{}},
		}})
	}
	return out
}

// messages moves system text to the dedicated system parameter. Tool messages
// travel as user turns since the API knows only user and assistant. The sorted
// names of tools called in the history are returned alongside.
func (m *Anthropic) messages(history []core.Message) (string, []anthropic.MessageParam, []string, error) {
	var (
		system []string
		used   []string
		out    = make([]anthropic.MessageParam, 0, len(history))
	)

	for _, msg := range history {
		if msg.Role == core.RoleSystem {
			if text := strings.TrimSpace(msg.Text()); text != "" {
				system = append(system, text)
			}
			continue
		}

		blocks, err := m.blocks(msg)
		if err != nil {
			return "", nil, nil, err
		}
		for _, call := range msg.ToolCalls() {
			if !slices.Contains(used, call.Name) {
				used = append(used, call.Name)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case core.RoleUser, core.RoleTool:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case core.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return "", nil, nil, fmt.Errorf("anthropic: unknown role %q", msg.Role)
		}
	}
	slices.Sort(used)
	return strings.Join(system, "\n\n"), out, used, nil
}

// blocks renders contents. Tool calls become tool_use blocks and results
// tool_result blocks carrying the JSON-encoded result.
func (m *Anthropic) blocks(msg core.Message) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Contents))

	for _, c := range msg.Contents {
		switch v := c.(type) {
		case core.Text:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case core.Image:
			if !m.info.Images {
				return nil, fmt.Errorf("%w: %s does not accept images", core.ErrUnsupportedCapability, m.info.APIName)
			}
			mediaType, data, err := encodeImage(v)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		case core.File:
			text, err := fileText(v)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, anthropic.NewTextBlock(text))
		case core.ToolCall:
			args := v.Args
			if args == nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, args, v.Name))
		case core.ToolResult:
			res, err := json.Marshal(v.Result)
			if err != nil {
				return nil, fmt.Errorf("anthropic: encode tool result: %w", err)
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(v.CallID, string(res), false))
		default:
			return nil, fmt.Errorf("anthropic: unknown content %T", c)
		}
	}
	return blocks, nil
}

func (m *Anthropic) toMessage(resp *anthropic.Message) (core.Message, error) {
	if resp == nil {
		return core.Message{}, core.ErrNoCompletionContent
	}
	b := core.NewMessage(core.RoleAssistant).Model(m.info.APIName).Config(m.snapshot)

	switch resp.StopReason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, anthropic.StopReasonMaxTokens:
		var text strings.Builder
		for _, block := range resp.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				text.WriteString(tb.Text)
			}
		}
		if text.Len() == 0 {
			return core.Message{}, core.ErrNoCompletionContent
		}
		b.Text(text.String())

	case anthropic.StopReasonToolUse:
		for _, block := range resp.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				if v.Text != "" {
					b.Text(v.Text)
				}
			case anthropic.ToolUseBlock:
				args := map[string]any{}
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &args); err != nil {
						return core.Message{}, &core.ProtocolError{
							Provider: core.ProviderAnthropic,
							Reason:   fmt.Sprintf("tool use %s input: %v", v.ID, err),
						}
					}
				}
				b.ToolCall(v.ID, v.Name, args)
			}
		}

	default:
		return core.Message{}, &core.ProtocolError{
			Provider: core.ProviderAnthropic,
			Reason:   fmt.Sprintf("unexpected stop reason %q", resp.StopReason),
		}
	}
	return b.Build(), nil
}

func anthropicDelta(event anthropic.MessageStreamEventUnion) (string, error) {
	switch v := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		if d, ok := v.Delta.AsAny().(anthropic.TextDelta); ok {
			return d.Text, nil
		}
	case anthropic.MessageDeltaEvent:
		switch v.Delta.StopReason {
		case "", anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, anthropic.StopReasonMaxTokens:
		default:
			return "", &core.ProtocolError{
				Provider: core.ProviderAnthropic,
				Reason:   fmt.Sprintf("unexpected stop reason %q", v.Delta.StopReason),
			}
		}
	}
	return "", nil
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		perr := &core.ProviderError{
			Provider:   core.ProviderAnthropic,
			StatusCode: apiErr.StatusCode,
		}
		var body anthropicErrorBody
		if json.Unmarshal([]byte(apiErr.RawJSON()), &body) == nil && body.Error.Message != "" {
			perr.Code = body.Error.Type
			perr.Message = body.Error.Message
		} else {
			perr.Message = strings.TrimSpace(apiErr.RawJSON())
			if perr.Message == "" {
				perr.Message = http.StatusText(apiErr.StatusCode)
			}
		}
		return perr
	}
	return fmt.Errorf("anthropic request: %w", err)
}
