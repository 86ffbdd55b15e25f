package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultCfg = testConfig{maxRounds: 3}

func TestSendTurn_MissingCredential(t *testing.T) {
	e := newEnv(t, defaultCfg)
	chat := e.newChat(t, ChatCreate{})

	_, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingCredential)

	var turnErr *TurnError
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, chat.ID, turnErr.ChatID)

	assert.Equal(t, []core.Role{core.RoleSystem}, e.roles(t, chat.ID))
	assert.Empty(t, e.model.calls())
}

func TestSendTurn_ProviderErrorRollsBack(t *testing.T) {
	e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI)
	chat := e.newChat(t, ChatCreate{})

	e.model.replies = []any{&core.ProviderError{Provider: core.ProviderOpenAI, StatusCode: 500, Message: "upstream down"}}

	_, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("hi"))
	var perr *core.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "upstream down")

	assert.Equal(t, []core.Role{core.RoleSystem}, e.roles(t, chat.ID))
	require.Len(t, e.model.calls(), 1)
	assert.Equal(t, 0, e.model.titleRuns)
}

func TestSendTurn_ToolLoop(t *testing.T) {
	e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI)
	chat := e.newChat(t, ChatCreate{Title: "Tools", Config: json.RawMessage(`{"tools":["test_tool"]}`)})

	e.model.replies = []any{
		core.NewMessage(core.RoleAssistant).
			ToolCall("c1", "test_tool", map[string]any{"foo": "a"}).
			ToolCall("c2", "test_tool", map[string]any{"foo": "b"}).
			Build(),
		assistantText("done"),
	}

	reply, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("use tools"))
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text())
	assert.Equal(t, "gpt-4o-mini", reply.Model)

	assert.Equal(t, []core.Role{
		core.RoleSystem, core.RoleUser, core.RoleAssistant, core.RoleTool, core.RoleAssistant,
	}, e.roles(t, chat.ID))

	calls := e.model.calls()
	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second, 4)
	toolMsg := second[3]
	assert.Equal(t, core.RoleTool, toolMsg.Role)
	assert.Equal(t, core.Contents{
		core.ToolResult{CallID: "c1", Result: map[string]any{"result": "a"}},
		core.ToolResult{CallID: "c2", Result: map[string]any{"result": "b"}},
	}, toolMsg.Contents)

	require.NotEmpty(t, e.factory.built)
	defs := e.factory.built[0].defs
	require.Len(t, defs, 1)
	assert.Equal(t, "test_tool", defs[0].Name)
	assert.Equal(t, "key-openai", e.factory.built[0].key)

	got, err := e.chats.GetChat(t.Context(), e.user.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tools", got.Title)
	assert.Equal(t, 0, e.model.titleRuns)
}

func TestSendTurn_ToolFailuresRollBack(t *testing.T) {
	tests := []struct {
		name    string
		replies []any
		check   func(t *testing.T, err error)
	}{
		{
			name: "tool error",
			replies: []any{
				core.NewMessage(core.RoleAssistant).ToolCall("c1", "explode", map[string]any{"foo": "x"}).Build(),
			},
			check: func(t *testing.T, err error) {
				var execErr *core.ToolExecutionError
				require.True(t, errors.As(err, &execErr))
				assert.Equal(t, "explode", execErr.Tool)
			},
		},
		{
			name: "unknown tool",
			replies: []any{
				core.NewMessage(core.RoleAssistant).ToolCall("c1", "nope", nil).Build(),
			},
			check: func(t *testing.T, err error) {
				var nf *core.ToolNotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, "nope", nf.Name)
			},
		},
		{
			name: "loop limit after successful rounds",
			replies: []any{
				core.NewMessage(core.RoleAssistant).ToolCall("c1", "test_tool", map[string]any{"foo": "1"}).Build(),
				core.NewMessage(core.RoleAssistant).ToolCall("c2", "test_tool", map[string]any{"foo": "2"}).Build(),
				core.NewMessage(core.RoleAssistant).ToolCall("c3", "test_tool", map[string]any{"foo": "3"}).Build(),
				core.NewMessage(core.RoleAssistant).ToolCall("c4", "test_tool", map[string]any{"foo": "4"}).Build(),
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, core.ErrToolLoopLimit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI)
			chat := e.newChat(t, ChatCreate{Config: json.RawMessage(`{"tools":["test_tool","explode"]}`)})
			e.model.replies = tt.replies

			_, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("go"))
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, []core.Role{core.RoleSystem}, e.roles(t, chat.ID))
		})
	}
}

func TestSendTurn_GeneratesTitleOnce(t *testing.T) {
	e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI)
	chat := e.newChat(t, ChatCreate{})
	require.Equal(t, core.DefaultChatTitle, chat.Title)

	e.model.replies = []any{assistantText("Milk, eggs."), assistantText("Also bread.")}

	_, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("What do I need?"))
	require.NoError(t, err)

	got, err := e.chats.GetChat(t.Context(), e.user.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shopping List", got.Title)
	assert.Equal(t, 1, e.model.titleRuns)

	e.model.title = "Something Else"
	_, err = e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("And?"))
	require.NoError(t, err)

	got, err = e.chats.GetChat(t.Context(), e.user.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shopping List", got.Title)
	assert.Equal(t, 1, e.model.titleRuns)
}

func TestSendTurn_TitleFailureIsIgnored(t *testing.T) {
	e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI)
	chat := e.newChat(t, ChatCreate{})

	e.model.titleErr = errors.New("title model down")
	e.model.replies = []any{assistantText("hello")}

	reply, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, userText("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Text())

	got, err := e.chats.GetChat(t.Context(), e.user.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultChatTitle, got.Title)
}

func TestSendTurn_ConfigResolution(t *testing.T) {
	e := newEnv(t, defaultCfg).withKey(t, core.ProviderOpenAI).withKey(t, core.ProviderAnthropic)
	chat := e.newChat(t, ChatCreate{Title: "cfg", Config: json.RawMessage(`{"temperature":0.2}`)})

	e.model.replies = []any{assistantText("one"), assistantText("two")}

	msg := userText("switch model")
	msg.Model = "claude-3-haiku-20240307"
	msg.Config = json.RawMessage(`{"temperature":0.9}`)

	_, err := e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, core.ProviderAnthropic, e.factory.built[0].info.Provider)
	assert.Equal(t, "key-anthropic", e.factory.built[0].key)

	msgs, err := e.messages.ListMessages(t.Context(), chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs[1].Model, "user message keeps no model")
	assert.Empty(t, msgs[1].Config)

	bad := userText("bad")
	bad.Config = json.RawMessage(`{"temperature":7}`)
	_, err = e.svc.SendTurn(t.Context(), chat.ID, e.user.ID, bad)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = e.svc.SendTurn(t.Context(), "missing", e.user.ID, userText("x"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}
