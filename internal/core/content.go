package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sandevgo/chatd/pkg/conv"
)

type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentFile       ContentType = "file"
	ContentToolCall   ContentType = "tool_call"
	ContentToolResult ContentType = "tool_result"
)

// Content is one item of a message. The set of implementations is closed:
// Text, Image, File, ToolCall and ToolResult.
type Content interface {
	Type() ContentType
	sealed()
}

type Text struct {
	Text string `json:"text"`
}

// Image references a locally stored picture.
type Image struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// File references a locally stored document whose text is sent to the model.
type File struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolResult struct {
	CallID string         `json:"call_id"`
	Result map[string]any `json:"result"`
}

func (Text) Type() ContentType       { return ContentText }
func (Image) Type() ContentType      { return ContentImage }
func (File) Type() ContentType       { return ContentFile }
func (ToolCall) Type() ContentType   { return ContentToolCall }
func (ToolResult) Type() ContentType { return ContentToolResult }

func (Text) sealed()       {}
func (Image) sealed()      {}
func (File) sealed()       {}
func (ToolCall) sealed()   {}
func (ToolResult) sealed() {}

// MediaType returns the MIME type, sniffing the file when none was recorded.
func (i Image) MediaType() (string, error) {
	if i.MimeType != "" {
		return i.MimeType, nil
	}
	return conv.DetectMime(i.Path)
}

// Base64 loads the image and encodes it with standard padding.
func (i Image) Base64() (string, error) {
	data, err := os.ReadFile(i.Path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", i.Path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Extract returns the plain text of the document.
func (f File) Extract() (string, error) {
	return conv.ExtractText(f.Path, f.MimeType)
}

// Contents keeps its order on the wire and tags every item with its type.
type Contents []Content

type contentEnvelope struct {
	Type ContentType `json:"type"`
}

func (cs Contents) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(cs))
	for _, c := range cs {
		raw, err := MarshalContent(c)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (cs *Contents) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	items := make(Contents, 0, len(raws))
	for _, raw := range raws {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return err
		}
		items = append(items, c)
	}
	*cs = items
	return nil
}

// MarshalContent encodes a single item as {"type": ..., fields...}.
func MarshalContent(c Content) ([]byte, error) {
	var body any
	switch v := c.(type) {
	case Text:
		body = struct {
			Type ContentType `json:"type"`
			Text
		}{v.Type(), v}
	case Image:
		body = struct {
			Type ContentType `json:"type"`
			Image
		}{v.Type(), v}
	case File:
		body = struct {
			Type ContentType `json:"type"`
			File
		}{v.Type(), v}
	case ToolCall:
		body = struct {
			Type ContentType `json:"type"`
			ToolCall
		}{v.Type(), v}
	case ToolResult:
		body = struct {
			Type ContentType `json:"type"`
			ToolResult
		}{v.Type(), v}
	default:
		return nil, fmt.Errorf("unknown content %T", c)
	}
	return json.Marshal(body)
}

func UnmarshalContent(data []byte) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case ContentText:
		var v Text
		err := json.Unmarshal(data, &v)
		return v, err
	case ContentImage:
		var v Image
		err := json.Unmarshal(data, &v)
		return v, err
	case ContentFile:
		var v File
		err := json.Unmarshal(data, &v)
		return v, err
	case ContentToolCall:
		var v ToolCall
		err := json.Unmarshal(data, &v)
		return v, err
	case ContentToolResult:
		var v ToolResult
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown content type %q", env.Type)
	}
}
