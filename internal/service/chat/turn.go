package chat

import (
	"context"
	"fmt"
	"slices"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/pkg/log"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxToolRounds = 8

// TurnError is returned when a turn fails after validation started. Every
// message written by the turn has been removed by the time it is returned.
type TurnError struct {
	ChatID string
	Stage  string
	Err    error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// turn tracks the messages written during one exchange so they can be
// removed together.
type turn struct {
	s       *Service
	chat    core.Chat
	userID  string
	created []string
}

func (s *Service) newTurn(chat core.Chat, userID string) *turn {
	return &turn{s: s, chat: chat, userID: userID}
}

func (t *turn) persist(ctx context.Context, msg core.Message, owner string) (core.Message, error) {
	msg.ID = ""
	msg.ChatID = t.chat.ID
	msg.UserID = owner

	saved, err := t.s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return core.Message{}, fmt.Errorf("persist %s message: %w", msg.Role, err)
	}
	t.created = append(t.created, saved.ID)
	return saved, nil
}

// rollback deletes the turn's messages newest first. It ignores ctx
// cancellation and may run more than once.
func (t *turn) rollback(ctx context.Context) {
	if len(t.created) == 0 {
		return
	}
	ids := slices.Clone(t.created)
	slices.Reverse(ids)

	if err := t.s.messages.DeleteMessages(context.WithoutCancel(ctx), ids...); err != nil {
		log.FromCtx(ctx).Error().Err(err).Strs("messages", ids).Msg("rollback failed")
		return
	}
	log.FromCtx(ctx).Debug().Int("messages", len(ids)).Str("chat_id", t.chat.ID).Msg("rolled back turn")
	t.created = nil
}

func (t *turn) fail(ctx context.Context, stage string, err error) error {
	t.rollback(ctx)
	return &TurnError{ChatID: t.chat.ID, Stage: stage, Err: err}
}

// history loads the chat without unfinished stream placeholders.
func (s *Service) history(ctx context.Context, chatID string) ([]core.Message, error) {
	msgs, err := s.messages.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(msgs, func(m core.Message) bool {
		return m.Role == core.RoleAssistant && m.Text() == core.LoadingPlaceholder && len(m.Contents) == 1
	}), nil
}

func userMessage(msg core.Message) core.Message {
	msg.Role = core.RoleUser
	msg.Model = ""
	msg.Config = nil
	return msg
}

// SendTurn runs one synchronous exchange including tool rounds and returns
// the final assistant message.
func (s *Service) SendTurn(ctx context.Context, chatID, userID string, msg core.Message) (core.Message, error) {
	logger := log.FromCtx(ctx).With().Str("chat_id", chatID).Logger()
	ctx = logger.WithContext(ctx)

	chat, err := s.chats.GetChat(ctx, userID, chatID)
	if err != nil {
		return core.Message{}, err
	}

	t := s.newTurn(chat, userID)

	r, err := s.resolve(ctx, chat, userID, msg, true)
	if err != nil {
		return core.Message{}, t.fail(ctx, "resolve model", err)
	}

	history, err := s.history(ctx, chatID)
	if err != nil {
		return core.Message{}, t.fail(ctx, "load history", err)
	}

	user, err := t.persist(ctx, userMessage(msg), userID)
	if err != nil {
		return core.Message{}, t.fail(ctx, "persist", err)
	}
	history = append(history, user)

	maxRounds := s.cfg.GetMaxToolRounds()
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	var reply core.Message
	for round := 0; ; round++ {
		resp, err := r.model.Chat(ctx, history)
		if err != nil {
			return core.Message{}, t.fail(ctx, "model", err)
		}
		resp.Role = core.RoleAssistant

		reply, err = t.persist(ctx, resp, s.accounts.Assistant)
		if err != nil {
			return core.Message{}, t.fail(ctx, "persist", err)
		}
		history = append(history, reply)

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			break
		}
		if round >= maxRounds {
			return core.Message{}, t.fail(ctx, "tools", fmt.Errorf("%d rounds: %w", maxRounds, core.ErrToolLoopLimit))
		}

		logger.Info().Int("calls", len(calls)).Int("round", round+1).Msg("executing tool calls")

		results, err := invokeTools(ctx, r.toolbox, calls)
		if err != nil {
			return core.Message{}, t.fail(ctx, "tools", err)
		}

		b := core.NewMessage(core.RoleTool)
		for _, res := range results {
			b.Content(res)
		}
		toolMsg, err := t.persist(ctx, b.Build(), s.accounts.Assistant)
		if err != nil {
			return core.Message{}, t.fail(ctx, "persist", err)
		}
		history = append(history, toolMsg)
	}

	if chat.Title == core.DefaultChatTitle {
		s.generateTitle(ctx, r, chat, history)
	}

	return reply, nil
}

// invokeTools runs calls concurrently and returns results in call order.
// Every call is looked up before any of them runs.
func invokeTools(ctx context.Context, box *tools.Toolbox, calls []core.ToolCall) ([]core.ToolResult, error) {
	resolvedTools := make([]*tools.Tool, len(calls))
	for i, call := range calls {
		tool, err := box.Lookup(call.Name)
		if err != nil {
			return nil, err
		}
		resolvedTools[i] = tool
	}

	results := make([]core.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			out, err := resolvedTools[i].Call(gctx, call.Args)
			if err != nil {
				return err
			}
			results[i] = core.ToolResult{CallID: call.ID, Result: out}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
