package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/sandevgo/chatd/internal/core"
)

// APIKey is a reserved argument field. It is never exposed in the schema
// and receives the credential attached with WithAPIKey.
type APIKey string

// Enum is implemented by string types with a closed set of values.
type Enum interface {
	EnumValues() []string
}

type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Items       string   `json:"-"`
	Default     any      `json:"default,omitempty"`
}

var (
	ctxType    = reflect.TypeFor[context.Context]()
	errType    = reflect.TypeFor[error]()
	apiKeyType = reflect.TypeFor[APIKey]()
	enumType   = reflect.TypeFor[Enum]()
)

// Tool is an immutable description of a callable plus an optional attached
// credential. Attach keys with WithAPIKey, which returns a copy.
type Tool struct {
	name        string
	description string
	params      map[string]Param
	order       []string
	required    []string
	fields      map[string]int

	fn       reflect.Value
	argType  reflect.Type
	keyField int
	provider core.Provider
	apiKey   string

	// Set for tools hosted elsewhere; fn is unused then.
	schema map[string]any
	remote RemoteFunc
}

// FromFunc derives a tool from fn, which must have the shape
// func(context.Context, A) (R, error) with A a struct.
//
// The doc string holds the tool description followed by an "Args:" section
// with one "name (type): description" line per parameter.
func FromFunc(name, doc string, fn any) (*Tool, error) {
	schemaErr := func(format string, args ...any) error {
		return &core.SchemaError{Tool: name, Reason: fmt.Sprintf(format, args...)}
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if fv.Kind() != reflect.Func {
		return nil, schemaErr("expected a function, got %s", ft)
	}
	if ft.NumIn() != 2 || ft.In(0) != ctxType || ft.In(1).Kind() != reflect.Struct {
		return nil, schemaErr("function must accept (context.Context, struct)")
	}
	if ft.NumOut() != 2 || ft.Out(1) != errType {
		return nil, schemaErr("function must return (result, error)")
	}

	description, argDocs := parseDoc(doc)
	if description == "" {
		return nil, schemaErr("missing description")
	}

	t := &Tool{
		name:        name,
		description: description,
		params:      make(map[string]Param),
		fields:      make(map[string]int),
		fn:          fv,
		argType:     ft.In(1),
		keyField:    -1,
	}

	for i := range t.argType.NumField() {
		f := t.argType.Field(i)
		if !f.IsExported() {
			continue
		}

		if f.Type == apiKeyType {
			p := f.Tag.Get("provider")
			if p == "" {
				return nil, schemaErr("api key field %s has no provider tag", f.Name)
			}
			t.keyField = i
			t.provider = core.Provider(p)
			continue
		}

		pname := jsonName(f)
		if pname == "" {
			continue
		}

		param, err := paramFor(f.Type)
		if err != nil {
			return nil, schemaErr("parameter %s: %v", pname, err)
		}

		desc, ok := argDocs[pname]
		if !ok {
			return nil, schemaErr("no documentation found for parameter %s", pname)
		}
		param.Description = desc

		def, hasDefault := f.Tag.Lookup("default")
		if hasDefault {
			v, err := parseDefault(f.Type, def)
			if err != nil {
				return nil, schemaErr("parameter %s default: %v", pname, err)
			}
			param.Default = v
		}
		if !hasDefault && f.Type.Kind() != reflect.Pointer {
			t.required = append(t.required, pname)
		}

		t.params[pname] = param
		t.order = append(t.order, pname)
		t.fields[pname] = i
	}

	return t, nil
}

var argLine = regexp.MustCompile(`(?m)^\s*(\w+) \(([^)]+)\): (.+)$`)

func parseDoc(doc string) (string, map[string]string) {
	head, args, _ := strings.Cut(doc, "Args:")

	docs := make(map[string]string)
	for _, m := range argLine.FindAllStringSubmatch(args, -1) {
		docs[m[1]] = strings.TrimSpace(m[3])
	}
	return strings.TrimSpace(head), docs
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func paramFor(t reflect.Type) (Param, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Implements(enumType) {
		values := reflect.Zero(t).Interface().(Enum).EnumValues()
		return Param{Type: "string", Enum: slices.Clone(values)}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return Param{Type: "string"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Param{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return Param{Type: "number"}, nil
	case reflect.Bool:
		return Param{Type: "boolean"}, nil
	case reflect.Slice, reflect.Array:
		item, err := paramFor(t.Elem())
		if err != nil {
			return Param{}, err
		}
		return Param{Type: "array", Items: item.Type}, nil
	case reflect.Map, reflect.Struct:
		return Param{Type: "object"}, nil
	}
	return Param{}, fmt.Errorf("unsupported type %s", t)
}

func parseDefault(t reflect.Type, raw string) (any, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.String {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *Tool) Name() string               { return t.name }
func (t *Tool) Description() string        { return t.description }
func (t *Tool) RequiresAPIKey() bool       { return t.keyField >= 0 }
func (t *Tool) APIProvider() core.Provider { return t.provider }
func (t *Tool) HasAPIKey() bool            { return t.apiKey != "" }
func (t *Tool) Required() []string         { return slices.Clone(t.required) }

func (t *Tool) Param(name string) (Param, bool) {
	p, ok := t.params[name]
	return p, ok
}

// WithAPIKey returns a copy of the tool carrying key.
func (t *Tool) WithAPIKey(key string) *Tool {
	c := *t
	c.apiKey = key
	return &c
}

// Definition renders the JSON schema sent to providers.
func (t *Tool) Definition() core.ToolDefinition {
	if t.schema != nil {
		return core.ToolDefinition{Name: t.name, Description: t.description, Parameters: t.schema}
	}

	props := make(map[string]any, len(t.params))
	for _, name := range t.order {
		p := t.params[name]
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = slices.Clone(p.Enum)
		}
		if p.Items != "" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
	}

	required := t.required
	if required == nil {
		required = []string{}
	}

	return core.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   slices.Clone(required),
		},
	}
}

// Call runs the tool with model-provided arguments. Anything that goes wrong
// after the credential check is reported as *core.ToolExecutionError.
func (t *Tool) Call(ctx context.Context, args map[string]any) (result map[string]any, err error) {
	if t.RequiresAPIKey() && t.apiKey == "" {
		return nil, fmt.Errorf("tool %s needs a %s key: %w", t.name, t.provider, core.ErrMissingCredential)
	}

	fail := func(err error) (map[string]any, error) {
		return nil, &core.ToolExecutionError{Tool: t.name, Err: err}
	}

	if t.remote != nil {
		return t.callRemote(ctx, args, fail)
	}

	merged := make(map[string]any, len(args)+len(t.params))
	for k, v := range args {
		merged[k] = v
	}
	for name, p := range t.params {
		if _, ok := merged[name]; !ok && p.Default != nil {
			merged[name] = p.Default
		}
	}
	for _, name := range t.required {
		if _, ok := merged[name]; !ok {
			return fail(fmt.Errorf("missing required argument %q", name))
		}
	}
	for name, p := range t.params {
		if len(p.Enum) == 0 {
			continue
		}
		if s, ok := merged[name].(string); ok && !slices.Contains(p.Enum, s) {
			return fail(fmt.Errorf("argument %s: %q is not one of %v", name, s, p.Enum))
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return fail(fmt.Errorf("encode arguments: %w", err))
	}
	argPtr := reflect.New(t.argType)
	if err := json.Unmarshal(raw, argPtr.Interface()); err != nil {
		return fail(fmt.Errorf("decode arguments: %w", err))
	}
	if t.keyField >= 0 {
		argPtr.Elem().Field(t.keyField).SetString(t.apiKey)
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	out := t.fn.Call([]reflect.Value{reflect.ValueOf(ctx), argPtr.Elem()})
	if e, _ := out[1].Interface().(error); e != nil {
		var execErr *core.ToolExecutionError
		if errors.As(e, &execErr) {
			return nil, e
		}
		return fail(e)
	}

	res, err := normalize(out[0].Interface())
	if err != nil {
		return fail(err)
	}
	return res, nil
}

// normalize turns any JSON-serialisable value into an object, wrapping
// non-objects as {"result": v}.
func normalize(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if m, ok := decoded.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": decoded}, nil
}
