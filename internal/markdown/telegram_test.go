// ABOUTME: Tests for the Markdown to Telegram HTML converter.
// ABOUTME: Covers emphasis, code, links, lists, headings, and escaping.

package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"plain text", "hello world", "hello world"},
		{"bold", "this is **important**", "this is <b>important</b>"},
		{"italic", "this is *subtle*", "this is <i>subtle</i>"},
		{"code span", "run `go test` now", "run <code>go test</code> now"},
		{"heading becomes bold", "# Status", "<b>Status</b>"},
		{"link", "[docs](https://example.com)", `<a href="https://example.com">docs</a>`},
		{"escapes html", "use a < b & c > d", "use a &lt; b &amp; c &gt; d"},
		{"list items become bullets", "- first\n- second", "• first\n• second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.source))
		})
	}
}

func TestToTelegramHTML_FencedCode(t *testing.T) {
	out := ToTelegramHTML("```\nfmt.Println(\"hi\")\n```")
	assert.Equal(t, "<pre>fmt.Println(&#34;hi&#34;)\n</pre>", out)
}

func TestToTelegramHTML_CodeInsideFenceIsEscaped(t *testing.T) {
	out := ToTelegramHTML("```\nif a < b {\n}\n```")
	assert.Contains(t, out, "a &lt; b")
}

func TestToTelegramHTML_MultipleParagraphs(t *testing.T) {
	out := ToTelegramHTML("first paragraph\n\nsecond paragraph")
	assert.Equal(t, "first paragraph\n\nsecond paragraph", out)
}

func TestToTelegramHTML_DropsRawHTML(t *testing.T) {
	out := ToTelegramHTML("before\n\n<script>alert(1)</script>\n\nafter")
	assert.NotContains(t, out, "<script>")
}
