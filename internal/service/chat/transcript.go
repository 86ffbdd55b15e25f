package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sandevgo/chatd/internal/core"
)

// Transcript renders the chat as Markdown. System prompts are omitted.
func (s *Service) Transcript(ctx context.Context, userID, chatID string) (string, error) {
	view, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", view.Title)
	fmt.Fprintf(&b, "_Model: %s, created %s_\n", view.DefaultModel, view.CreatedAt.Format("2006-01-02 15:04"))

	for _, m := range view.Messages {
		if m.Role == core.RoleSystem {
			continue
		}

		heading := map[core.Role]string{
			core.RoleUser:      "User",
			core.RoleAssistant: "Assistant",
			core.RoleTool:      "Tool",
		}[m.Role]
		if m.Model != "" {
			heading += " (" + m.Model + ")"
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)

		for _, c := range m.Contents {
			switch v := c.(type) {
			case core.Text:
				b.WriteString(v.Text + "\n\n")
			case core.Image:
				fmt.Fprintf(&b, "_[image: %s]_\n\n", filepath.Base(v.Path))
			case core.File:
				fmt.Fprintf(&b, "_[file: %s]_\n\n", filepath.Base(v.Path))
			case core.ToolCall:
				args, _ := json.Marshal(v.Args)
				fmt.Fprintf(&b, "Calling `%s`:\n\n```json\n%s\n```\n\n", v.Name, args)
			case core.ToolResult:
				res, _ := json.MarshalIndent(v.Result, "", "  ")
				fmt.Fprintf(&b, "Result for `%s`:\n\n```json\n%s\n```\n\n", v.CallID, res)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n", nil
}
