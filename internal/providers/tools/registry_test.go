package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys map[core.Provider]string

func (s staticKeys) GetAPIKey(_ context.Context, _ string, p core.Provider) (string, bool, error) {
	k, ok := s[p]
	return k, ok, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry()
	require.NoError(t, err)
	return r
}

func TestRegistry(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []string{"current_time", "fetch_url", "test_tool", "web_search"}, r.Names())
	assert.Len(t, r.List(), 4)

	tool, err := r.Get("test_tool")
	require.NoError(t, err)
	assert.Equal(t, "A test tool that returns the input string.", tool.Description())

	_, err = r.Get("nope")
	var nf *core.ToolNotFoundError
	assert.True(t, errors.As(err, &nf))

	assert.Error(t, r.Register(tool))
}

func TestRegistry_Toolbox(t *testing.T) {
	r := newTestRegistry(t)
	names := []string{"test_tool", "web_search"}

	box, err := r.Toolbox(t.Context(), "u1", staticKeys{}, names)
	require.NoError(t, err)

	defs := box.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "test_tool", defs[0].Name)

	_, err = box.Invoke(t.Context(), core.ToolCall{ID: "c1", Name: "web_search", Args: map[string]any{"query": "go"}})
	assert.ErrorIs(t, err, core.ErrMissingCredential)

	res, err := box.Invoke(t.Context(), core.ToolCall{ID: "c2", Name: "test_tool", Args: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "bar"}, res)

	_, err = box.Invoke(t.Context(), core.ToolCall{Name: "current_time"})
	var nf *core.ToolNotFoundError
	assert.True(t, errors.As(err, &nf))

	keyed, err := r.Toolbox(t.Context(), "u1", staticKeys{core.ProviderTavily: "tvly"}, names)
	require.NoError(t, err)
	assert.Len(t, keyed.Definitions(), 2)

	_, err = r.Toolbox(t.Context(), "u1", nil, []string{"missing"})
	assert.True(t, errors.As(err, &nf))

	var empty *Toolbox
	assert.True(t, empty.Empty())
	assert.Nil(t, empty.Definitions())
}
