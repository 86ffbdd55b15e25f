package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/conv"
	"github.com/sandevgo/chatd/pkg/retry"
)

const (
	DefaultSearchURL = "https://api.tavily.com/search"

	maxFetchBytes = 2 << 20
	maxFetchChars = 20000
)

// Builtins hosts the tools shipped with the server.
type Builtins struct {
	client    *http.Client
	retrier   *retry.Retrier
	searchURL string
	now       func() time.Time
}

type BuiltinOption func(*Builtins)

func WithHTTPClient(c *http.Client) BuiltinOption {
	return func(b *Builtins) { b.client = c }
}

func WithSearchURL(u string) BuiltinOption {
	return func(b *Builtins) { b.searchURL = u }
}

func WithRetrier(r *retry.Retrier) BuiltinOption {
	return func(b *Builtins) { b.retrier = r }
}

func WithClock(now func() time.Time) BuiltinOption {
	return func(b *Builtins) { b.now = now }
}

func NewBuiltins(opts ...BuiltinOption) *Builtins {
	b := &Builtins{
		client:    &http.Client{Timeout: 20 * time.Second},
		retrier:   retry.NewDefaultRetrier(),
		searchURL: DefaultSearchURL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tools builds the builtin tool set.
func (b *Builtins) Tools() ([]*Tool, error) {
	defs := []struct {
		name, doc string
		fn        any
	}{
		{"test_tool", testToolDoc, b.TestTool},
		{"web_search", webSearchDoc, b.WebSearch},
		{"fetch_url", fetchURLDoc, b.FetchURL},
		{"current_time", currentTimeDoc, b.CurrentTime},
	}

	out := make([]*Tool, 0, len(defs))
	for _, d := range defs {
		t, err := FromFunc(d.name, d.doc, d.fn)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// NewDefaultRegistry returns a registry holding the builtin tools.
func NewDefaultRegistry(opts ...BuiltinOption) (*Registry, error) {
	tools, err := NewBuiltins(opts...).Tools()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	if err := r.Register(tools...); err != nil {
		return nil, err
	}
	return r, nil
}

const testToolDoc = `A test tool that returns the input string.

Args:
    foo (str): The input string`

type TestToolArgs struct {
	Foo string `json:"foo"`
}

func (b *Builtins) TestTool(_ context.Context, args TestToolArgs) (string, error) {
	return args.Foo, nil
}

const webSearchDoc = `Search the web for the given query.
Returns a list of search results, each of the form {"title", "url", "content", "score"}.
Score is a float between 0 and 1 that indicates how relevant the result is to the query.

Args:
    query (str): The search query
    max_results (int): Maximum number of results to return`

type WebSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results" default:"5"`
	Key        APIKey `json:"-" provider:"tavily"`
}

type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func (b *Builtins) WebSearch(ctx context.Context, args WebSearchArgs) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{
		"query":       args.Query,
		"max_results": args.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}

	err = b.retrier.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.searchURL, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+string(args.Key))
		req.Header.Set("User-Agent", core.UserAgent)

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("search request: %w", err)
		}
		defer resp.Body.Close()

		if err := statusError(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return retry.Permanent(fmt.Errorf("decode search response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payload.Results == nil {
		payload.Results = []SearchResult{}
	}
	return payload.Results, nil
}

const fetchURLDoc = `Fetch a web page with HTTP GET and return its readable text.

Args:
    url (str): The URL to fetch`

type FetchURLArgs struct {
	URL string `json:"url"`
}

func (b *Builtins) FetchURL(ctx context.Context, args FetchURLArgs) (map[string]any, error) {
	if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
		return nil, fmt.Errorf("unsupported url %q", args.URL)
	}

	var (
		text        string
		contentType string
	)

	err := b.retrier.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", core.UserAgent)

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch url: %w", err)
		}
		defer resp.Body.Close()

		if err := statusError(resp); err != nil {
			return err
		}

		contentType, _, _ = mime.ParseMediaType(resp.Header.Get("Content-Type"))
		body := io.LimitReader(resp.Body, maxFetchBytes)

		if contentType == conv.MimeHTML || contentType == "application/xhtml+xml" {
			text, err = conv.HTMLToText(body)
			if err != nil {
				return retry.Permanent(err)
			}
			return nil
		}

		raw, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		text = string(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}

	truncated := false
	if r := []rune(text); len(r) > maxFetchChars {
		text = string(r[:maxFetchChars])
		truncated = true
	}

	return map[string]any{
		"url":          args.URL,
		"content_type": contentType,
		"content":      text,
		"truncated":    truncated,
	}, nil
}

const currentTimeDoc = `Get the current date and time.

Args:
    timezone (str): IANA timezone name such as Europe/Berlin`

type CurrentTimeArgs struct {
	Timezone string `json:"timezone" default:"UTC"`
}

func (b *Builtins) CurrentTime(_ context.Context, args CurrentTimeArgs) (map[string]any, error) {
	loc, err := time.LoadLocation(args.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
	}
	now := b.now().In(loc)
	return map[string]any{
		"timezone": loc.String(),
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
	}, nil
}

// statusError treats 5xx and 429 as retryable and other failures as final.
func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}
	return retry.Permanent(err)
}
