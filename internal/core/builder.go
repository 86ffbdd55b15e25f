package core

import "encoding/json"

// MessageBuilder assembles a message content by content, preserving order.
type MessageBuilder struct {
	msg Message
}

func NewMessage(role Role) *MessageBuilder {
	return &MessageBuilder{msg: Message{Role: role}}
}

func (b *MessageBuilder) Text(text string) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, Text{Text: text})
	return b
}

func (b *MessageBuilder) Image(path, mimeType string) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, Image{Path: path, MimeType: mimeType})
	return b
}

func (b *MessageBuilder) File(path, mimeType string) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, File{Path: path, MimeType: mimeType})
	return b
}

func (b *MessageBuilder) ToolCall(id, name string, args map[string]any) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, ToolCall{ID: id, Name: name, Args: args})
	return b
}

func (b *MessageBuilder) ToolResult(callID string, result map[string]any) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, ToolResult{CallID: callID, Result: result})
	return b
}

func (b *MessageBuilder) Content(c Content) *MessageBuilder {
	b.msg.Contents = append(b.msg.Contents, c)
	return b
}

func (b *MessageBuilder) Model(model string) *MessageBuilder {
	b.msg.Model = model
	return b
}

func (b *MessageBuilder) Config(cfg json.RawMessage) *MessageBuilder {
	b.msg.Config = cfg
	return b
}

func (b *MessageBuilder) Build() Message {
	msg := b.msg
	msg.Contents = append(Contents(nil), b.msg.Contents...)
	return msg
}
