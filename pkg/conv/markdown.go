package conv

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var (
	extensions       = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlFlags        = html.CommonFlags | html.HrefTargetBlank
	transcriptPolicy = bluemonday.NewPolicy()
)

func init() {
	transcriptPolicy.AllowElements(
		"p", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"b", "strong", "i", "em", "s", "del", "code", "pre", "blockquote",
		"ul", "ol", "li", "table", "thead", "tbody", "tr", "th", "td",
	)
	transcriptPolicy.AllowAttrs("href").OnElements("a")
	transcriptPolicy.AllowAttrs("class").OnElements("code")
}

// MarkdownToHTML renders model output for the transcript export.
// Raw HTML in the input is sanitized away except for the allowed formatting tags.
func MarkdownToHTML(md []byte) string {
	p := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	unsafeHTML := markdown.Render(p.Parse(md), renderer)

	return string(transcriptPolicy.SanitizeBytes(unsafeHTML))
}
