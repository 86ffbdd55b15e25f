package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandevgo/chatd/internal/core"
)

// RemoteFunc executes a tool hosted outside this process.
type RemoteFunc func(ctx context.Context, args map[string]any) (any, error)

// NewRemote wraps a tool described by a ready JSON schema, as served by MCP
// servers. Only the schema's required list is checked before calling.
func NewRemote(name, description string, schema map[string]any, call RemoteFunc) (*Tool, error) {
	if name == "" || call == nil {
		return nil, &core.SchemaError{Tool: name, Reason: "remote tool needs a name and a call"}
	}
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	var required []string
	switch req := schema["required"].(type) {
	case []string:
		required = req
	case []any:
		for _, r := range req {
			s, ok := r.(string)
			if !ok {
				return nil, &core.SchemaError{Tool: name, Reason: fmt.Sprintf("required entry %v is not a string", r)}
			}
			required = append(required, s)
		}
	}

	return &Tool{
		name:        name,
		description: description,
		params:      map[string]Param{},
		required:    required,
		keyField:    -1,
		schema:      schema,
		remote:      call,
	}, nil
}

func (t *Tool) callRemote(ctx context.Context, args map[string]any, fail func(error) (map[string]any, error)) (result map[string]any, err error) {
	for _, name := range t.required {
		if _, ok := args[name]; !ok {
			return fail(fmt.Errorf("missing required argument %q", name))
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := t.remote(ctx, args)
	if err != nil {
		var execErr *core.ToolExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}
		return fail(err)
	}

	res, err := normalize(out)
	if err != nil {
		return fail(err)
	}
	return res, nil
}
