package conv

import (
	"html"
	"io"
	"strings"

	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

const maxTitleRunes = 100

var titlePolicy = bluemonday.StrictPolicy()

// HTMLToText converts an HTML document into readable plain text.
func HTMLToText(r io.Reader) (string, error) {
	return html2text.FromReader(r, html2text.Options{
		OmitLinks:    false,
		PrettyTables: true,
	})
}

// SanitizeTitle strips markup, quotes and whitespace from a generated chat
// title and caps its length.
func SanitizeTitle(s string) string {
	s = html.UnescapeString(titlePolicy.Sanitize(s))
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`“”‘’")
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Join(strings.Fields(s), " ")

	if r := []rune(s); len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
