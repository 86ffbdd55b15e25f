package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/internal/service/stream"
)

// ModelFactory resolves model names and builds provider adapters.
type ModelFactory interface {
	Lookup(name string) (core.ModelInfo, error)
	New(ctx context.Context, info core.ModelInfo, apiKey string, cfg llm.ModelConfig, defs []core.ToolDefinition) (core.ChatModel, error)
}

type ToolRegistry interface {
	Get(name string) (*tools.Tool, error)
	Toolbox(ctx context.Context, userID string, keys core.CredentialStore, names []string) (*tools.Toolbox, error)
}

// Tokenizer trims title transcripts. *tiktoken.Tiktoken satisfies it.
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

type Deps struct {
	Chats     core.ChatRepository
	Messages  core.MessageRepository
	Keys      core.CredentialStore
	Models    ModelFactory
	Tools     ToolRegistry
	Streams   *stream.Manager
	Accounts  core.ServiceAccounts
	Tokenizer Tokenizer
}

// Service runs chat turns and manages chats.
type Service struct {
	cfg core.OrchestratorConfig

	chats     core.ChatRepository
	messages  core.MessageRepository
	keys      core.CredentialStore
	models    ModelFactory
	tools     ToolRegistry
	streams   *stream.Manager
	accounts  core.ServiceAccounts
	tokenizer Tokenizer

	// background owns streaming goroutines; cancelled when Shutdown gives up waiting.
	background context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// mu guards closing and orders wg.Add before Shutdown's Wait.
	mu      sync.Mutex
	closing bool
}

func NewService(cfg core.OrchestratorConfig, deps Deps) *Service {
	bg, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		chats:      deps.Chats,
		messages:   deps.Messages,
		keys:       deps.Keys,
		models:     deps.Models,
		tools:      deps.Tools,
		streams:    deps.Streams,
		accounts:   deps.Accounts,
		tokenizer:  deps.Tokenizer,
		background: bg,
		cancel:     cancel,
	}
}

type ChatCreate struct {
	Title        string          `json:"title"`
	DefaultModel string          `json:"default_model"`
	SystemPrompt string          `json:"system_prompt"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// ChatUpdate changes only the fields that are set.
type ChatUpdate struct {
	Title        *string         `json:"title,omitempty"`
	DefaultModel *string         `json:"default_model,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

type ChatView struct {
	core.Chat
	Messages []core.Message `json:"messages"`
}

func (s *Service) CreateChat(ctx context.Context, userID string, req ChatCreate) (core.Chat, error) {
	chat := core.Chat{
		UserID:       userID,
		Title:        strings.TrimSpace(req.Title),
		DefaultModel: req.DefaultModel,
	}
	if chat.Title == "" {
		chat.Title = core.DefaultChatTitle
	}
	if chat.DefaultModel == "" {
		chat.DefaultModel = core.DefaultModel
	}

	info, err := s.lookup(chat.DefaultModel)
	if err != nil {
		return core.Chat{}, err
	}
	if len(req.Config) > 0 {
		if chat.Config, err = s.validateConfig(info, req.Config); err != nil {
			return core.Chat{}, err
		}
	}

	prompt := req.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = core.DefaultSystemPrompt
	}
	system := core.NewMessage(core.RoleSystem).Text(prompt).Build()
	system.UserID = s.accounts.System

	return s.chats.CreateChat(ctx, chat, system)
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]core.Chat, error) {
	return s.chats.ListChats(ctx, userID)
}

func (s *Service) GetChat(ctx context.Context, userID, chatID string) (ChatView, error) {
	chat, err := s.chats.GetChat(ctx, userID, chatID)
	if err != nil {
		return ChatView{}, err
	}
	msgs, err := s.messages.ListMessages(ctx, chatID)
	if err != nil {
		return ChatView{}, err
	}
	return ChatView{Chat: chat, Messages: msgs}, nil
}

// UpdateChat applies req. Switching the default model without a config
// resets the config to that model's defaults.
func (s *Service) UpdateChat(ctx context.Context, userID, chatID string, req ChatUpdate) (core.Chat, error) {
	chat, err := s.chats.GetChat(ctx, userID, chatID)
	if err != nil {
		return core.Chat{}, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return core.Chat{}, fmt.Errorf("title must not be empty: %w", core.ErrInvalidConfiguration)
		}
		chat.Title = title
	}

	modelChanged := req.DefaultModel != nil && *req.DefaultModel != chat.DefaultModel
	if modelChanged {
		chat.DefaultModel = *req.DefaultModel
		chat.Config = nil
	}

	info, err := s.lookup(chat.DefaultModel)
	if err != nil {
		return core.Chat{}, err
	}

	if len(req.Config) > 0 {
		if chat.Config, err = s.validateConfig(info, req.Config); err != nil {
			return core.Chat{}, err
		}
	}

	if err := s.chats.UpdateChat(ctx, chat); err != nil {
		return core.Chat{}, err
	}
	return chat, nil
}

func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.chats.DeleteChat(ctx, userID, chatID)
}

func (s *Service) lookup(name string) (core.ModelInfo, error) {
	info, err := s.models.Lookup(name)
	if err != nil {
		return core.ModelInfo{}, fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
	}
	return info, nil
}

// validateConfig decodes raw for the model's provider, checks the tool list
// and returns the normalised encoding.
func (s *Service) validateConfig(info core.ModelInfo, raw json.RawMessage) (json.RawMessage, error) {
	cfg, err := llm.DecodeConfig(info.Provider, raw)
	if err != nil {
		return nil, err
	}

	names := cfg.ToolNames()
	if len(names) > 0 && !info.Tools {
		return nil, fmt.Errorf("%s does not support tools: %w", info.APIName, core.ErrUnsupportedCapability)
	}
	for _, name := range names {
		if _, err := s.tools.Get(name); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
		}
	}

	return llm.EncodeConfig(cfg)
}

// Start idles until ctx is done so the service can be run next to its transports.
func (s *Service) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Shutdown waits for running streams. When ctx expires first the streams
// are cancelled, which rolls them back.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
