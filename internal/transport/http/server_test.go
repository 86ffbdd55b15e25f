package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sandevgo/chatd/internal/config"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/internal/service/chat"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOrchestrator struct{}

func (testOrchestrator) GetMaxToolRounds() int           { return 4 }
func (testOrchestrator) GetStreamTimeout() time.Duration { return 5 * time.Second }
func (testOrchestrator) GetTitleMaxTokens() int          { return 64 }

// echoModel answers with the last message text and streams a fixed reply.
type echoModel struct {
	info core.ModelInfo
}

func (m *echoModel) Info() core.ModelInfo { return m.info }

func (m *echoModel) Chat(_ context.Context, history []core.Message) (core.Message, error) {
	last := history[len(history)-1]
	return core.NewMessage(core.RoleAssistant).Text("echo: " + last.Text()).Model(m.info.APIName).Build(), nil
}

func (m *echoModel) ChatStream(context.Context, []core.Message) (core.Stream, error) {
	return &sliceStream{fragments: []string{"Hello", " ", "world"}}, nil
}

type sliceStream struct {
	fragments []string
	cur       string
}

func (s *sliceStream) Next() bool {
	if len(s.fragments) == 0 {
		s.cur = ""
		return false
	}
	s.cur, s.fragments = s.fragments[0], s.fragments[1:]
	return true
}

func (s *sliceStream) Current() string { return s.cur }
func (s *sliceStream) Err() error      { return nil }
func (s *sliceStream) Close() error    { return nil }

type echoFactory struct {
	*llm.Catalog
}

func (f echoFactory) New(_ context.Context, info core.ModelInfo, _ string, _ llm.ModelConfig, _ []core.ToolDefinition) (core.ChatModel, error) {
	return &echoModel{info: info}, nil
}

type harness struct {
	url   string
	token string
	keys  *sqlite.KeysRepo
	user  core.User
}

func newHarness(t *testing.T, cfg config.ServerConfig) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.NewDB(ctx, filepath.Join(dir, "chatd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUsersRepo(db)
	user, token, err := users.CreateUser(ctx, "alice@example.com")
	require.NoError(t, err)
	system, err := users.EnsureUser(ctx, "system@chatd.local")
	require.NoError(t, err)
	assistant, err := users.EnsureUser(ctx, "assistant@chatd.local")
	require.NoError(t, err)

	keys := sqlite.NewKeysRepo(db)
	catalog := llm.NewCatalog(llm.DefaultModels, keys, nil)
	registry, err := tools.NewDefaultRegistry()
	require.NoError(t, err)
	streams := stream.NewManager(0)

	svc := chat.NewService(testOrchestrator{}, chat.Deps{
		Chats:    sqlite.NewChatsRepo(db),
		Messages: sqlite.NewMessagesRepo(db),
		Keys:     keys,
		Models:   echoFactory{Catalog: catalog},
		Tools:    registry,
		Streams:  streams,
		Accounts: core.ServiceAccounts{System: system.ID, Assistant: assistant.ID},
	})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	s := NewServer(ctx, &cfg, filepath.Join(dir, "uploads"), Deps{
		Users:   users,
		Keys:    keys,
		Catalog: catalog,
		Tools:   registry,
		Chats:   svc,
		Streams: streams,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &harness{url: ts.URL, token: token, keys: keys, user: user}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.url+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (h *harness) createChat(t *testing.T) core.Chat {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/chats", chat.ChatCreate{Title: "Groceries"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var c core.Chat
	require.NoError(t, json.Unmarshal(body, &c))
	return c
}

func (h *harness) setKey(t *testing.T, p core.Provider) {
	t.Helper()
	status, body := h.do(t, http.MethodPut, "/keys/"+string(p), keyRequest{Key: "sk-" + string(p)})
	require.Equal(t, http.StatusOK, status, string(body))
}

func detail(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Detail
}

func TestAuth(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	status, _ := (&harness{url: h.url}).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := (&harness{url: h.url}).do(t, http.MethodGet, "/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing token", detail(t, body))

	status, _ = (&harness{url: h.url, token: "nope"}).do(t, http.MethodGet, "/chats", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = h.do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, status)
	var me core.User
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, h.user.ID, me.ID)
}

func TestChatLifecycle(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	c := h.createChat(t)
	assert.Equal(t, "Groceries", c.Title)
	assert.Equal(t, core.DefaultModel, c.DefaultModel)

	status, body := h.do(t, http.MethodPost, "/chats/"+c.ID+"/messages", messageRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, detail(t, body), core.ErrMissingCredential.Error())

	h.setKey(t, core.ProviderOpenAI)

	status, body = h.do(t, http.MethodPost, "/chats/"+c.ID+"/messages", messageRequest{Text: "hi"})
	require.Equal(t, http.StatusOK, status, string(body))
	var reply core.Message
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, core.RoleAssistant, reply.Role)
	assert.Equal(t, "echo: hi", reply.Text())

	status, body = h.do(t, http.MethodGet, "/chats/"+c.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var view chat.ChatView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Len(t, view.Messages, 3)
	assert.Equal(t, core.RoleSystem, view.Messages[0].Role)
	assert.Equal(t, "hi", view.Messages[1].Text())

	title := "Weekly shop"
	status, body = h.do(t, http.MethodPut, "/chats/"+c.ID, chat.ChatUpdate{Title: &title})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = h.do(t, http.MethodGet, "/chats", nil)
	require.Equal(t, http.StatusOK, status)
	var list []core.Chat
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Weekly shop", list[0].Title)

	status, _ = h.do(t, http.MethodDelete, "/chats/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(t, http.MethodGet, "/chats/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSendMessageErrors(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.setKey(t, core.ProviderOpenAI)
	c := h.createChat(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{name: "unknown chat", path: "/chats/missing/messages", body: messageRequest{Text: "hi"}, status: http.StatusNotFound},
		{name: "empty message", path: "/chats/" + c.ID + "/messages", body: messageRequest{}, status: http.StatusBadRequest},
		{name: "unknown model", path: "/chats/" + c.ID + "/messages", body: messageRequest{Text: "hi", Model: "gpt-2"}, status: http.StatusBadRequest},
		{
			name:   "config out of range",
			path:   "/chats/" + c.ID + "/messages",
			body:   messageRequest{Text: "hi", Config: json.RawMessage(`{"temperature": 3}`)},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, status, string(body))
		})
	}

	status, body := h.do(t, http.MethodGet, "/chats/"+c.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var view chat.ChatView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Len(t, view.Messages, 1, "failed turns leave only the system message")
}

func TestSendMessageMultipart(t *testing.T) {
	h := newHarness(t, config.ServerConfig{MaxUploadMB: 1})
	h.setKey(t, core.ProviderOpenAI)
	c := h.createChat(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("text", "summarise this"))
	part, err := w.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("buy milk\nbuy eggs\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, h.url+"/chats/"+c.ID+"/messages", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.token)

	status, body := send(t, req)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = h.do(t, http.MethodGet, "/chats/"+c.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var view chat.ChatView
	require.NoError(t, json.Unmarshal(body, &view))
	require.Len(t, view.Messages, 3)

	user := view.Messages[1]
	require.Len(t, user.Contents, 2)
	file, ok := user.Contents[1].(core.File)
	require.True(t, ok)
	assert.Equal(t, "text/plain", file.MimeType)

	status, body = h.do(t, http.MethodGet, "/uploads/"+filepath.Base(file.Path), nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "buy milk\nbuy eggs\n", string(body))

	status, _ = h.do(t, http.MethodGet, "/uploads/.env", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestKeys(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	status, body := h.do(t, http.MethodPut, "/keys/bogus", keyRequest{Key: "x"})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	status, _ = h.do(t, http.MethodDelete, "/keys/openai", nil)
	assert.Equal(t, http.StatusNotFound, status)

	h.setKey(t, core.ProviderAnthropic)
	status, body = h.do(t, http.MethodGet, "/keys", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"providers":["anthropic"]}`, string(body))

	status, body = h.do(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, status)
	var entries []llm.CatalogEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	for _, e := range entries {
		assert.Equal(t, e.Provider == core.ProviderAnthropic, e.UserHasKey, e.APIName)
	}

	status, _ = h.do(t, http.MethodGet, "/models/claude-3-haiku-20240307", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodGet, "/models/gpt-2", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodDelete, "/keys/anthropic", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestTools(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	status, body := h.do(t, http.MethodGet, "/tools", nil)
	require.Equal(t, http.StatusOK, status)
	var list []toolView
	require.NoError(t, json.Unmarshal(body, &list))

	byName := map[string]toolView{}
	for _, v := range list {
		byName[v.Name] = v
	}
	require.Contains(t, byName, "web_search")
	assert.True(t, byName["web_search"].RequiresKey)
	assert.Equal(t, core.ProviderTavily, byName["web_search"].Provider)
	assert.False(t, byName["web_search"].UserHasKey)
	assert.False(t, byName["test_tool"].RequiresKey)

	status, body = h.do(t, http.MethodPost, "/tools/test_tool", map[string]any{"foo": "bar"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"result":"bar"}`, string(body))

	status, body = h.do(t, http.MethodPost, "/tools/test_tool", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, status, string(body))

	status, body = h.do(t, http.MethodPost, "/tools/web_search", map[string]any{"query": "go"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, detail(t, body), core.ErrMissingCredential.Error())

	status, _ = h.do(t, http.MethodGet, "/tools/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, config.ServerConfig{RateLimit: 0.001, RateBurst: 1})

	status, _ := h.do(t, http.MethodPost, "/tools/test_tool", map[string]any{"foo": "a"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodPost, "/tools/test_tool", map[string]any{"foo": "b"})
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = h.do(t, http.MethodGet, "/tools", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestStreamOverWebsocket(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.setKey(t, core.ProviderOpenAI)
	c := h.createChat(t)

	wsURL := "ws" + strings.TrimPrefix(h.url, "http") + "/chats/" + c.ID + "/stream?token=" + h.token
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "no stream yet")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, body := h.do(t, http.MethodPost, "/chats/"+c.ID+"/stream", messageRequest{Text: "hi"})
	require.Equal(t, http.StatusAccepted, status, string(body))
	var ack chat.StreamAck
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, "Stream started", ack.Message)
	assert.NotEmpty(t, ack.AssistantMessageID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, frameSnapshot, first.Type)

	text := first.Text
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == frameToken {
			text += f.Text
			continue
		}
		assert.Equal(t, frameEnd, f.Type)
		break
	}
	assert.Equal(t, "Hello world", text)

	require.Eventually(t, func() bool {
		_, body := h.do(t, http.MethodGet, "/chats/"+c.ID, nil)
		var view chat.ChatView
		if json.Unmarshal(body, &view) != nil || len(view.Messages) != 3 {
			return false
		}
		return view.Messages[2].Text() == "Hello world"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExport(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.setKey(t, core.ProviderOpenAI)
	c := h.createChat(t)

	status, _ := h.do(t, http.MethodPost, "/chats/"+c.ID+"/messages", messageRequest{Text: "**bold** move"})
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodGet, "/chats/"+c.ID+"/export?format=md", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "## User")
	assert.Contains(t, string(body), "**bold** move")

	status, body = h.do(t, http.MethodGet, "/chats/"+c.ID+"/export", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "<strong>bold</strong>")

	status, _ = h.do(t, http.MethodGet, "/chats/"+c.ID+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrNotFound, http.StatusNotFound},
		{stream.ErrNoStream, http.StatusNotFound},
		{&core.ToolNotFoundError{Name: "x"}, http.StatusNotFound},
		{core.ErrInvalidConfiguration, http.StatusBadRequest},
		{&chat.TurnError{Stage: "model", Err: core.ErrNoCompletionContent}, http.StatusBadRequest},
		{&core.ToolExecutionError{Tool: "x", Err: io.EOF}, http.StatusUnprocessableEntity},
		{&chat.TurnError{Stage: "start stream", Err: chat.ErrShuttingDown}, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
