package core

import (
	"encoding/json"
	"time"
)

const (
	AppName    = "chatd"
	AppVersion = "0.1.0"
	UserAgent  = "chatd/0.1"
)

const (
	// DefaultChatTitle marks a chat whose title has not been generated yet.
	DefaultChatTitle = "New Chat"
	// LoadingPlaceholder is the text of an assistant message awaiting its stream.
	LoadingPlaceholder = "LOADING"
	DefaultModel       = "gpt-4o-mini"

	DefaultSystemPrompt = `You are a helpful AI assistant. You can use tools when they help you answer.
Format responses in Markdown. Be concise unless the user asks for detail.`
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Provider names a remote model API or a credentialed tool API.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderTavily    Provider = "tavily"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderTavily:
		return true
	}
	return false
}

type Message struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chat_id"`
	UserID    string          `json:"user_id"`
	Role      Role            `json:"role"`
	Contents  Contents        `json:"contents"`
	Model     string          `json:"model,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Text joins all text contents of the message.
func (m Message) Text() string {
	var out string
	for _, c := range m.Contents {
		if t, ok := c.(Text); ok {
			out += t.Text
		}
	}
	return out
}

func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, c := range m.Contents {
		if tc, ok := c.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls()) > 0
}

func (m Message) HasImages() bool {
	for _, c := range m.Contents {
		if _, ok := c.(Image); ok {
			return true
		}
	}
	return false
}

type Chat struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	DefaultModel string          `json:"default_model"`
	Config       json.RawMessage `json:"config,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceAccounts are the owners of system prompts and model replies.
// They are resolved once at startup and passed to the services that need them.
type ServiceAccounts struct {
	System    string
	Assistant string
}

// ToolDefinition is the provider-facing description of a tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
