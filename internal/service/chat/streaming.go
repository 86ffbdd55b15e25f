package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/pkg/log"
)

const DefaultStreamTimeout = 5 * time.Minute

// ErrShuttingDown rejects streaming turns once Shutdown has begun.
var ErrShuttingDown = errors.New("chat service is shutting down")

// StreamAck is returned once the streaming turn has been accepted.
type StreamAck struct {
	Message            string `json:"message"`
	ChatID             string `json:"chat_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Model              string `json:"model"`
}

// StartStreamTurn persists the user message and a placeholder reply, then
// streams the model output to the chat topic in the background.
func (s *Service) StartStreamTurn(ctx context.Context, chatID, userID string, msg core.Message) (StreamAck, error) {
	logger := log.FromCtx(ctx).With().Str("chat_id", chatID).Logger()
	ctx = logger.WithContext(ctx)

	if s.isClosing() {
		return StreamAck{}, ErrShuttingDown
	}

	chat, err := s.chats.GetChat(ctx, userID, chatID)
	if err != nil {
		return StreamAck{}, err
	}

	t := s.newTurn(chat, userID)

	r, err := s.resolve(ctx, chat, userID, msg, false)
	if err != nil {
		return StreamAck{}, t.fail(ctx, "resolve model", err)
	}
	if !r.info.Streaming {
		return StreamAck{}, t.fail(ctx, "resolve model",
			fmt.Errorf("%s does not support streaming: %w", r.info.APIName, core.ErrUnsupportedCapability))
	}

	history, err := s.history(ctx, chatID)
	if err != nil {
		return StreamAck{}, t.fail(ctx, "load history", err)
	}

	user, err := t.persist(ctx, userMessage(msg), userID)
	if err != nil {
		return StreamAck{}, t.fail(ctx, "persist", err)
	}
	history = append(history, user)

	placeholder, err := t.persist(ctx,
		core.NewMessage(core.RoleAssistant).Text(core.LoadingPlaceholder).Model(r.info.APIName).Build(),
		s.accounts.Assistant)
	if err != nil {
		return StreamAck{}, t.fail(ctx, "persist", err)
	}

	topic := s.streams.Reset(chatID)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = topic.Fail(ErrShuttingDown)
		return StreamAck{}, t.fail(ctx, "start stream", ErrShuttingDown)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	bg := logger.WithContext(s.background)
	go s.runStream(bg, t, r, topic, placeholder.ID, history, attachments(user))

	return StreamAck{
		Message:            "Stream started",
		ChatID:             chatID,
		UserMessageID:      user.ID,
		AssistantMessageID: placeholder.ID,
		Model:              r.info.APIName,
	}, nil
}

func (s *Service) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// attachments lists the files referenced by the user message of a turn.
func attachments(msg core.Message) []string {
	var paths []string
	for _, c := range msg.Contents {
		switch v := c.(type) {
		case core.Image:
			paths = append(paths, v.Path)
		case core.File:
			paths = append(paths, v.Path)
		}
	}
	return paths
}

func removeAttachments(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.FromCtx(ctx).Warn().Err(err).Str("path", p).Msg("failed to remove attachment")
		}
	}
}

func (s *Service) runStream(ctx context.Context, t *turn, r *resolved, topic *stream.Topic, placeholderID string, history []core.Message, files []string) {
	defer s.wg.Done()
	logger := log.FromCtx(ctx)

	timeout := s.cfg.GetStreamTimeout()
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(err error) {
		t.rollback(ctx)
		removeAttachments(ctx, files)
		_ = topic.Fail(err)
		logger.Error().Err(err).Msg("stream turn failed")
	}

	st, err := r.model.ChatStream(ctx, history)
	if err != nil {
		fail(err)
		return
	}
	defer st.Close()

	for st.Next() {
		_ = topic.Publish(st.Current())
	}
	if err := st.Err(); err != nil {
		fail(err)
		return
	}
	if err := ctx.Err(); err != nil {
		fail(fmt.Errorf("stream interrupted: %w", err))
		return
	}

	text := topic.Text()
	if text == "" {
		fail(core.ErrNoCompletionContent)
		return
	}

	cfgRaw, err := llm.EncodeConfig(r.cfg)
	if err != nil {
		fail(err)
		return
	}
	if err := s.messages.UpdateMessage(ctx, placeholderID, core.Contents{core.Text{Text: text}}, r.info.APIName, cfgRaw); err != nil {
		fail(err)
		return
	}

	if err := topic.End(); err != nil && !errors.Is(err, stream.ErrClosed) {
		logger.Warn().Err(err).Msg("failed to end stream")
	}
	logger.Info().Int("chars", len(text)).Msg("stream turn complete")

	if t.chat.Title == core.DefaultChatTitle {
		final := core.NewMessage(core.RoleAssistant).Text(text).Build()
		s.generateTitle(ctx, r, t.chat, append(history, final))
	}
}
