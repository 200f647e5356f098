package pubsched

import (
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"strings"

	"github.com/a-h/templ"
)

// PageMeta is the metadata substituted into the post skeleton.
type PageMeta struct {
	Title           string
	Date            string
	Category        string
	Tags            []string
	MetaDescription string
	Keywords        []string
	Slug            string
}

// Compositor merges a rendered fragment and its metadata into the post
// skeleton.
type Compositor struct {
	templatePath string
}

// NewCompositor returns a Compositor reading the skeleton at templatePath,
// or the embedded skeleton when templatePath is empty.
func NewCompositor(templatePath string) *Compositor {
	return &Compositor{templatePath: templatePath}
}

func (c *Compositor) skeleton() (string, error) {
	var data []byte
	var err error
	if c.templatePath != "" {
		data, err = os.ReadFile(c.templatePath)
	} else {
		data, err = EmbeddedTemplates.ReadFile("templates/post.html")
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingTemplate, err)
	}
	return string(data), nil
}

// Compose returns the page document. Every occurrence of a known
// placeholder is replaced in one pass; unknown placeholders are kept.
func (c *Compositor) Compose(fragment string, meta PageMeta) (string, error) {
	skel, err := c.skeleton()
	if err != nil {
		return "", err
	}
	out, err := fillTemplate(skel, placeholderValues(fragment, meta))
	if err != nil {
		return "", fmt.Errorf("compose %s: %w", meta.Slug, err)
	}
	return out, nil
}

func placeholderValues(fragment string, meta PageMeta) map[string]string {
	var tags strings.Builder
	for _, t := range meta.Tags {
		tags.WriteString(`<span class="post-tag">`)
		tags.WriteString(html.EscapeString(t))
		tags.WriteString(`</span>`)
	}
	return map[string]string{
		"POST_TITLE":       html.EscapeString(meta.Title),
		"POST_CONTENT":     fragment,
		"POST_DATE":        html.EscapeString(meta.Date),
		"POST_CATEGORY":    html.EscapeString(meta.Category),
		"POST_TAGS":        tags.String(),
		"META_DESCRIPTION": html.EscapeString(meta.MetaDescription),
		"KEYWORDS":         html.EscapeString(JoinTags(meta.Keywords)),
		"URL_SLUG":         html.EscapeString(meta.Slug),
	}
}

// PageComponent wraps a composed document for rendering through templ.
func PageComponent(page string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, page)
		return err
	})
}
