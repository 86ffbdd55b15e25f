package conv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Weekend trip ideas", "Weekend trip ideas"},
		{"quoted", `"Weekend trip ideas"`, "Weekend trip ideas"},
		{"whitespace collapsed", "  Go \n generics  ", "Go generics"},
		{"markup stripped", "<b>Rust</b> vs Go", "Rust vs Go"},
		{"entities kept readable", "Tom & Jerry", "Tom & Jerry"},
		{"title prefix", "Title: Sourdough basics", "Sourdough basics"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTitle(tt.input))
		})
	}
}

func TestSanitizeTitle_Truncates(t *testing.T) {
	got := SanitizeTitle(strings.Repeat("é", 300))
	assert.Len(t, []rune(got), maxTitleRunes)
}

func TestHTMLToText(t *testing.T) {
	out, err := HTMLToText(strings.NewReader("<html><body><p>Hello <b>there</b></p></body></html>"))
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "there")
	assert.NotContains(t, out, "<p>")
}
