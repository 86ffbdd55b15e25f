package core

import "context"

// Capabilities are static per model and checked before dispatch.
type Capabilities struct {
	Streaming bool `json:"supports_streaming"`
	Images    bool `json:"supports_images"`
	Tools     bool `json:"supports_tools"`
}

type ModelInfo struct {
	HumanName   string   `json:"human_name"`
	APIName     string   `json:"api_name"`
	Provider    Provider `json:"provider"`
	RequiresKey bool     `json:"requires_key"`
	Capabilities
}

type ChatModel interface {
	Info() ModelInfo
	// Chat sends the full history, new user turn included, and returns one assistant message.
	Chat(ctx context.Context, history []Message) (Message, error)
	ChatStream(ctx context.Context, history []Message) (Stream, error)
}

// Stream is a single-pass iterator over text fragments.
// Once Next returns false the stream is exhausted and stays so.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// CredentialStore resolves a user's secret for a provider. A missing key is
// reported as ok == false, not as an error.
type CredentialStore interface {
	GetAPIKey(ctx context.Context, userID string, provider Provider) (key string, ok bool, err error)
}
