package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/log"
)

type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds tools; names must be unique.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if _, exists := r.tools[t.name]; exists {
			return fmt.Errorf("tool %s already registered", t.name)
		}
		r.tools[t.name] = t
	}
	return nil
}

func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, &core.ToolNotFoundError{Name: name}
	}
	return t, nil
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, name := range r.namesLocked() {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Toolbox resolves names into per-turn copies with the user's credentials
// attached. Unknown names fail with *core.ToolNotFoundError.
func (r *Registry) Toolbox(ctx context.Context, userID string, keys core.CredentialStore, names []string) (*Toolbox, error) {
	box := &Toolbox{tools: make(map[string]*Tool, len(names))}

	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}

		if t.RequiresAPIKey() && keys != nil {
			key, ok, err := keys.GetAPIKey(ctx, userID, t.APIProvider())
			if err != nil {
				return nil, fmt.Errorf("load %s key for tool %s: %w", t.APIProvider(), name, err)
			}
			if ok {
				t = t.WithAPIKey(key)
			} else {
				log.FromCtx(ctx).Debug().Str("tool", name).Msg("tool credential missing, not offered")
			}
		}

		box.tools[name] = t
		box.order = append(box.order, name)
	}

	return box, nil
}

// Toolbox is the set of tools available to one turn.
type Toolbox struct {
	tools map[string]*Tool
	order []string
}

func (b *Toolbox) Empty() bool {
	return b == nil || len(b.order) == 0
}

// Definitions lists the tools that can actually run, skipping those still
// waiting for a credential.
func (b *Toolbox) Definitions() []core.ToolDefinition {
	if b == nil {
		return nil
	}
	var defs []core.ToolDefinition
	for _, name := range b.order {
		t := b.tools[name]
		if t.RequiresAPIKey() && !t.HasAPIKey() {
			continue
		}
		defs = append(defs, t.Definition())
	}
	return defs
}

func (b *Toolbox) Lookup(name string) (*Tool, error) {
	if b != nil {
		if t, ok := b.tools[name]; ok {
			return t, nil
		}
	}
	return nil, &core.ToolNotFoundError{Name: name}
}

func (b *Toolbox) Invoke(ctx context.Context, call core.ToolCall) (map[string]any, error) {
	t, err := b.Lookup(call.Name)
	if err != nil {
		return nil, err
	}
	return t.Call(ctx, call.Args)
}
