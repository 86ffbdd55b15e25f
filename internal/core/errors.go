package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential     = errors.New("missing credential")
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrUnsupportedCapability = errors.New("unsupported capability")
	ErrNoCompletionContent   = errors.New("no completion content")
	ErrNotFound              = errors.New("not found")
	ErrToolLoopLimit         = errors.New("tool loop limit reached")
)

// ProviderError is an explicit error payload returned by a remote model API.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ProtocolError reports a provider response the adapter cannot interpret.
type ProtocolError struct {
	Provider Provider
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %s", e.Provider, e.Reason)
}

type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ToolExecutionError wraps whatever the tool function returned or panicked with.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// SchemaError is raised while deriving a tool schema at registration time.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %s schema: %s", e.Tool, e.Reason)
}
