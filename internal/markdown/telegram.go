// ABOUTME: Converts Claude's Markdown output into the HTML subset Telegram accepts.
// ABOUTME: Uses goldmark to parse and a custom AST walk to emit b/i/code/pre/a tags.

package markdown

import (
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// ToTelegramHTML renders Markdown source as Telegram-safe HTML.
// Headings degrade to bold, list items to bullets; raw HTML in the source is
// dropped. If the walk fails for any reason the source is returned escaped,
// so the caller always gets something safe to send.
func ToTelegramHTML(source string) string {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				buf.WriteString("<b>")
			} else {
				buf.WriteString("</b>\n\n")
			}

		case *ast.Paragraph:
			if !entering {
				buf.WriteString("\n\n")
			}

		case *ast.Text:
			if entering {
				buf.WriteString(html.EscapeString(string(node.Segment.Value(src))))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteString("\n")
				}
			}

		case *ast.String:
			if entering {
				buf.WriteString(html.EscapeString(string(node.Value)))
			}

		case *ast.Emphasis:
			tag := "i"
			if node.Level > 1 {
				tag = "b"
			}
			if entering {
				buf.WriteString("<" + tag + ">")
			} else {
				buf.WriteString("</" + tag + ">")
			}

		case *ast.CodeSpan:
			if entering {
				buf.WriteString("<code>")
			} else {
				buf.WriteString("</code>")
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				buf.WriteString("<pre>")
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.WriteString(html.EscapeString(string(seg.Value(src))))
				}
				buf.WriteString("</pre>\n\n")
			}
			return ast.WalkSkipChildren, nil

		case *ast.Link:
			if entering {
				buf.WriteString(`<a href="` + html.EscapeString(string(node.Destination)) + `">`)
			} else {
				buf.WriteString("</a>")
			}

		case *ast.AutoLink:
			if entering {
				url := string(node.URL(src))
				buf.WriteString(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(url) + "</a>")
			}
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			if entering {
				buf.WriteString("• ")
			} else {
				buf.WriteString("\n")
			}

		case *ast.List:
			if !entering {
				buf.WriteString("\n")
			}

		case *ast.ThematicBreak:
			if entering {
				buf.WriteString("———\n\n")
			}

		case *ast.RawHTML, *ast.HTMLBlock:
			// Telegram rejects arbitrary HTML; drop it
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return html.EscapeString(source)
	}

	out := blankLines.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(out)
}
