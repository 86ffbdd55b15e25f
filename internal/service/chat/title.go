package chat

import (
	"context"
	"strings"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/conv"
	"github.com/sandevgo/chatd/pkg/log"
)

const (
	titlePrompt = "Below is a conversation between a user and an AI assistant. " +
		"Generate a title for this chat. The title should be short and memorable. " +
		"Respond with the title only. Do not include quotation marks. Do not use any tools."

	DefaultTitleMaxTokens = 1024
)

// generateTitle replaces the default title. Errors are logged only.
func (s *Service) generateTitle(ctx context.Context, r *resolved, chat core.Chat, history []core.Message) {
	logger := log.FromCtx(ctx)

	model, err := s.titleModel(ctx, r)
	if err != nil {
		logger.Warn().Err(err).Msg("title model unavailable")
		return
	}

	prompt := core.NewMessage(core.RoleUser).Text(s.titleRequest(history)).Build()
	reply, err := model.Chat(ctx, []core.Message{prompt})
	if err != nil {
		logger.Warn().Err(err).Msg("title generation failed")
		return
	}

	title := conv.SanitizeTitle(reply.Text())
	if title == "" {
		logger.Warn().Msg("title generation returned nothing usable")
		return
	}

	if err := s.chats.UpdateTitle(ctx, chat.ID, title); err != nil {
		logger.Warn().Err(err).Msg("failed to store generated title")
		return
	}
	logger.Debug().Str("title", title).Msg("chat titled")
}

func (s *Service) titleRequest(history []core.Message) string {
	var transcript strings.Builder
	for _, m := range history {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case core.RoleUser:
			transcript.WriteString("\nUser: " + text)
		case core.RoleAssistant:
			transcript.WriteString("\nAssistant: " + text)
		}
	}

	return titlePrompt + s.trimTokens(transcript.String()) + "\nTitle:"
}

// trimTokens keeps the head of text within the title token budget. Without a
// tokenizer it assumes four characters per token.
func (s *Service) trimTokens(text string) string {
	limit := s.cfg.GetTitleMaxTokens()
	if limit <= 0 {
		limit = DefaultTitleMaxTokens
	}

	if s.tokenizer == nil {
		r := []rune(text)
		if len(r) > limit*4 {
			return string(r[:limit*4])
		}
		return text
	}

	tokens := s.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text
	}
	return s.tokenizer.Decode(tokens[:limit])
}
