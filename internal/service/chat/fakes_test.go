package chat

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	maxRounds     int
	streamTimeout time.Duration
}

func (c testConfig) GetMaxToolRounds() int           { return c.maxRounds }
func (c testConfig) GetStreamTimeout() time.Duration { return c.streamTimeout }
func (c testConfig) GetTitleMaxTokens() int          { return 64 }

// fakeModel replays scripted replies. Title prompts are answered separately
// so scenarios do not have to script them.
type fakeModel struct {
	mu        sync.Mutex
	info      core.ModelInfo
	replies   []any
	histories [][]core.Message
	title     string
	titleErr  error
	titleRuns int

	fragments []string
	streamErr error
	hang      bool
}

func (m *fakeModel) Info() core.ModelInfo { return m.info }

func (m *fakeModel) Chat(_ context.Context, history []core.Message) (core.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(history) == 1 && strings.HasSuffix(history[0].Text(), "\nTitle:") {
		m.titleRuns++
		if m.titleErr != nil {
			return core.Message{}, m.titleErr
		}
		return core.NewMessage(core.RoleAssistant).Text(m.title).Build(), nil
	}

	m.histories = append(m.histories, slices.Clone(history))
	if len(m.replies) == 0 {
		return core.Message{}, errors.New("unexpected model call")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]

	switch v := next.(type) {
	case error:
		return core.Message{}, v
	case core.Message:
		v.Model = m.info.APIName
		return v, nil
	}
	panic("bad script")
}

func (m *fakeModel) ChatStream(ctx context.Context, history []core.Message) (core.Stream, error) {
	m.mu.Lock()
	m.histories = append(m.histories, slices.Clone(history))
	m.mu.Unlock()
	return &fakeStream{ctx: ctx, fragments: m.fragments, err: m.streamErr, hang: m.hang}, nil
}

func (m *fakeModel) calls() [][]core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.histories)
}

type fakeStream struct {
	ctx       context.Context
	fragments []string
	cur       string
	err       error
	hang      bool
	done      bool
}

func (s *fakeStream) Next() bool {
	if s.done {
		return false
	}
	if len(s.fragments) > 0 {
		s.cur, s.fragments = s.fragments[0], s.fragments[1:]
		return true
	}
	if s.hang {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
	}
	s.done = true
	s.cur = ""
	return false
}

func (s *fakeStream) Current() string { return s.cur }
func (s *fakeStream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}
func (s *fakeStream) Close() error { s.done = true; return nil }

type newCall struct {
	info core.ModelInfo
	key  string
	defs []core.ToolDefinition
}

// fakeFactory resolves names with the real catalog but hands out fakeModel.
type fakeFactory struct {
	*llm.Catalog
	model *fakeModel

	mu    sync.Mutex
	built []newCall
}

func (f *fakeFactory) New(_ context.Context, info core.ModelInfo, key string, _ llm.ModelConfig, defs []core.ToolDefinition) (core.ChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, newCall{info: info, key: key, defs: defs})
	f.model.info = info
	return f.model, nil
}

type env struct {
	svc      *Service
	model    *fakeModel
	factory  *fakeFactory
	streams  *stream.Manager
	chats    *sqlite.ChatsRepo
	messages *sqlite.MessagesRepo
	keys     *sqlite.KeysRepo
	user     core.User
}

func newEnv(t *testing.T, cfg testConfig) *env {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "chatd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUsersRepo(db)
	user, _, err := users.CreateUser(ctx, "alice@example.com")
	require.NoError(t, err)
	system, err := users.EnsureUser(ctx, "system@chatd.local")
	require.NoError(t, err)
	assistant, err := users.EnsureUser(ctx, "assistant@chatd.local")
	require.NoError(t, err)

	registry, err := tools.NewDefaultRegistry()
	require.NoError(t, err)
	explode, err := tools.FromFunc("explode", "Always fails.\n\nArgs:\n    foo (str): ignored",
		func(context.Context, tools.TestToolArgs) (string, error) { return "", errors.New("kaboom") })
	require.NoError(t, err)
	require.NoError(t, registry.Register(explode))

	keys := sqlite.NewKeysRepo(db)
	model := &fakeModel{title: `"Shopping List"`}
	factory := &fakeFactory{Catalog: llm.NewCatalog(llm.DefaultModels, keys, nil), model: model}
	streams := stream.NewManager(0)

	svc := NewService(cfg, Deps{
		Chats:    sqlite.NewChatsRepo(db),
		Messages: sqlite.NewMessagesRepo(db),
		Keys:     keys,
		Models:   factory,
		Tools:    registry,
		Streams:  streams,
		Accounts: core.ServiceAccounts{System: system.ID, Assistant: assistant.ID},
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	return &env{
		svc:      svc,
		model:    model,
		factory:  factory,
		streams:  streams,
		chats:    sqlite.NewChatsRepo(db),
		messages: sqlite.NewMessagesRepo(db),
		keys:     keys,
		user:     user,
	}
}

func (e *env) withKey(t *testing.T, p core.Provider) *env {
	t.Helper()
	require.NoError(t, e.keys.SetAPIKey(context.Background(), e.user.ID, p, "key-"+string(p)))
	return e
}

func (e *env) newChat(t *testing.T, req ChatCreate) core.Chat {
	t.Helper()
	chat, err := e.svc.CreateChat(context.Background(), e.user.ID, req)
	require.NoError(t, err)
	return chat
}

func (e *env) roles(t *testing.T, chatID string) []core.Role {
	t.Helper()
	msgs, err := e.messages.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	var roles []core.Role
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	return roles
}

func userText(text string) core.Message {
	return core.NewMessage(core.RoleUser).Text(text).Build()
}

func assistantText(text string) core.Message {
	return core.NewMessage(core.RoleAssistant).Text(text).Build()
}
