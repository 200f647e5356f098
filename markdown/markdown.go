// Package markdown renders the small Markdown dialect used by scheduled posts
// into an HTML fragment. Blocks are recognized line by line first, then inline
// formatting is applied to the text of each block in a single left-to-right scan.
//
// Recognized blocks: fenced code, # / ## / ### headings, "> " blockquotes,
// "* " / "- " list items and paragraphs. Recognized inline forms: `code`,
// [text](url), **bold** and *italic*. All text is HTML-escaped and link
// targets are restricted to safe schemes.
package markdown

import (
	"bytes"
	"context"
	"html"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"
)

// Markdown returns a templ.Component that renders md as HTML.
func Markdown(content string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		RenderMarkdown(&buf, content)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// ToHTML renders md and returns the fragment as a string.
func ToHTML(md string) string {
	var buf bytes.Buffer
	RenderMarkdown(&buf, md)
	return buf.String()
}

// RenderMarkdown writes the HTML representation of md to buf.
func RenderMarkdown(buf *bytes.Buffer, md string) {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	lines := strings.Split(md, "\n")

	var para []string
	var quote []string
	inList := false
	inCode := false

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if text == "" {
			return
		}
		buf.WriteString("<p>")
		buf.WriteString(FormatInline(text))
		buf.WriteString("</p>")
	}
	flushQuote := func() {
		if len(quote) == 0 {
			return
		}
		buf.WriteString("<blockquote>")
		buf.WriteString(FormatInline(strings.Join(quote, "\n")))
		buf.WriteString("</blockquote>")
		quote = quote[:0]
	}
	flushList := func() {
		if inList {
			buf.WriteString("</ul>")
			inList = false
		}
	}
	flushBlocks := func() {
		flushPara()
		flushQuote()
		flushList()
	}

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")

		if strings.HasPrefix(line, "```") {
			if inCode {
				buf.WriteString("</code></pre>")
				inCode = false
				continue
			}
			flushBlocks()
			lang := strings.TrimSpace(line[3:])
			if lang != "" {
				buf.WriteString(`<pre><code class="language-` + html.EscapeString(lang) + `">`)
			} else {
				buf.WriteString("<pre><code>")
			}
			inCode = true
			continue
		}
		if inCode {
			buf.WriteString(html.EscapeString(line))
			buf.WriteString("\n")
			continue
		}

		if strings.TrimSpace(line) == "" {
			flushBlocks()
			continue
		}

		if level, text, ok := heading(line); ok {
			flushBlocks()
			tag := "h" + string(rune('0'+level))
			buf.WriteString("<" + tag + ">")
			buf.WriteString(FormatInline(text))
			buf.WriteString("</" + tag + ">")
			continue
		}

		switch {
		case strings.HasPrefix(line, "> ") || line == ">":
			flushPara()
			flushList()
			quote = append(quote, strings.TrimSpace(strings.TrimPrefix(line, ">")))
		case strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "- "):
			flushPara()
			flushQuote()
			if !inList {
				buf.WriteString("<ul>")
				inList = true
			}
			buf.WriteString("<li>")
			buf.WriteString(FormatInline(strings.TrimSpace(line[2:])))
			buf.WriteString("</li>")
		default:
			flushQuote()
			flushList()
			para = append(para, strings.TrimSpace(line))
		}
	}
	flushBlocks()
	if inCode {
		buf.WriteString("</code></pre>")
	}
}

func heading(line string) (int, string, bool) {
	for level := 3; level >= 1; level-- {
		prefix := strings.Repeat("#", level) + " "
		if strings.HasPrefix(line, prefix) {
			return level, strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return 0, "", false
}

// FormatInline applies inline code, links, bold and italic to s, escaping
// everything else.
func FormatInline(s string) string {
	var b strings.Builder
	start := 0
	flush := func(end int) {
		if end > start {
			b.WriteString(html.EscapeString(s[start:end]))
		}
	}

	for i := 0; i < len(s); {
		switch s[i] {
		case '`':
			if j := strings.IndexByte(s[i+1:], '`'); j > 0 {
				flush(i)
				b.WriteString("<code>")
				b.WriteString(html.EscapeString(s[i+1 : i+1+j]))
				b.WriteString("</code>")
				i += j + 2
				start = i
				continue
			}
		case '[':
			if text, target, n, ok := scanLink(s[i:]); ok {
				flush(i)
				b.WriteString(renderLink(text, target))
				i += n
				start = i
				continue
			}
		case '*':
			if strings.HasPrefix(s[i:], "**") {
				if j := strings.Index(s[i+2:], "**"); j > 0 {
					flush(i)
					b.WriteString("<strong>")
					b.WriteString(FormatInline(s[i+2 : i+2+j]))
					b.WriteString("</strong>")
					i += j + 4
					start = i
					continue
				}
			} else if j := closingEmphasis(s[i+1:]); j > 0 {
				flush(i)
				b.WriteString("<em>")
				b.WriteString(FormatInline(s[i+1 : i+1+j]))
				b.WriteString("</em>")
				i += j + 2
				start = i
				continue
			}
		}
		i++
	}
	flush(len(s))
	return b.String()
}

// closingEmphasis returns the index in rest of the "*" closing an italic
// span, or -1. The span may not start or end with a space.
func closingEmphasis(rest string) int {
	if rest == "" || rest[0] == ' ' || rest[0] == '*' {
		return -1
	}
	j := strings.IndexByte(rest, '*')
	if j <= 0 || rest[j-1] == ' ' {
		return -1
	}
	return j
}

// scanLink parses "[text](target)" at the start of s and reports the number
// of bytes consumed.
func scanLink(s string) (text, target string, n int, ok bool) {
	closeText := strings.IndexByte(s, ']')
	if closeText <= 1 || closeText+1 >= len(s) || s[closeText+1] != '(' {
		return "", "", 0, false
	}
	closeTarget := strings.IndexByte(s[closeText+2:], ')')
	if closeTarget <= 0 {
		return "", "", 0, false
	}
	text = s[1:closeText]
	target = s[closeText+2 : closeText+2+closeTarget]
	return text, target, closeText + 2 + closeTarget + 1, true
}

func renderLink(text, target string) string {
	label := FormatInline(text)
	href := SafeURL(target)
	if href == "" {
		return label
	}
	return `<a href="` + href + `" target="_blank" rel="noopener noreferrer">` + label + `</a>`
}

// SafeURL validates and sanitizes a URL for use in HTML attributes.
// It returns "" for anything that is not relative, a fragment, or one of
// http, https, mailto and tel.
func SafeURL(raw string) string {
	val := strings.TrimSpace(html.UnescapeString(raw))
	if val == "" {
		return ""
	}
	if (strings.HasPrefix(val, "/") && !strings.HasPrefix(val, "//")) || strings.HasPrefix(val, "#") {
		return html.EscapeString(val)
	}
	parsed, err := url.Parse(val)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "mailto", "tel":
		return html.EscapeString(val)
	default:
		return ""
	}
}
