package core

import (
	"context"
	"encoding/json"
)

type UserRepository interface {
	CreateUser(ctx context.Context, email string) (User, string, error)
	EnsureUser(ctx context.Context, email string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ResolveToken(ctx context.Context, token string) (User, error)
}

type KeyRepository interface {
	CredentialStore
	SetAPIKey(ctx context.Context, userID string, provider Provider, key string) error
	DeleteAPIKey(ctx context.Context, userID string, provider Provider) error
	ListProviders(ctx context.Context, userID string) ([]Provider, error)
}

type ChatRepository interface {
	// CreateChat stores the chat together with its system message.
	CreateChat(ctx context.Context, chat Chat, system Message) (Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (Chat, error)
	ListChats(ctx context.Context, userID string) ([]Chat, error)
	UpdateChat(ctx context.Context, chat Chat) error
	UpdateTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, userID, chatID string) error
}

type MessageRepository interface {
	// CreateMessage inserts the message and its ordered contents atomically.
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	// UpdateMessage replaces contents, model and config of an existing message.
	UpdateMessage(ctx context.Context, id string, contents Contents, model string, config json.RawMessage) error
	// DeleteMessages is idempotent: unknown ids are ignored.
	DeleteMessages(ctx context.Context, ids ...string) error
}
