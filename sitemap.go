package pubsched

import (
	"bytes"
	"context"
	"encoding/xml"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	postChangeFreq = "monthly"
	postPriority   = 0.6
)

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// BuildSitemap renders the sitemap for the fixed pages followed by one entry
// per listed post.
func BuildSitemap(baseURL string, pages []StaticPage, entries []PublishedPostSummary, now time.Time) ([]byte, error) {
	today := now.Format("2006-01-02")
	urls := make([]sitemapURL, 0, len(pages)+len(entries))
	for _, p := range pages {
		urls = append(urls, sitemapURL{
			Loc:        pageURL(baseURL, p.Path),
			LastMod:    today,
			ChangeFreq: p.ChangeFreq,
			Priority:   formatPriority(p.Priority),
		})
	}
	for _, e := range entries {
		urls = append(urls, sitemapURL{
			Loc:        BuildURL(baseURL, "posts", e.URLSlug+".html"),
			LastMod:    sitemapDate(e.Date, now),
			ChangeFreq: postChangeFreq,
			Priority:   formatPriority(postPriority),
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(sitemapURLSet{
		XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9",
		URLs:  urls,
	}); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func pageURL(base, p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return BuildURL(base)
	}
	return BuildURL(base, strings.Split(p, "/")...)
}

func formatPriority(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64)
}

// Sitemap regenerates sitemap.xml in the site directory from the listing.
type Sitemap struct {
	siteDir string
	baseURL string
	pages   []StaticPage
	listing *Listing
	now     func() time.Time
	log     zerolog.Logger
}

// NewSitemap returns a generator writing <siteDir>/sitemap.xml.
func NewSitemap(siteDir, baseURL string, pages []StaticPage, listing *Listing, now func() time.Time, log zerolog.Logger) *Sitemap {
	if now == nil {
		now = time.Now
	}
	return &Sitemap{
		siteDir: siteDir,
		baseURL: baseURL,
		pages:   pages,
		listing: listing,
		now:     now,
		log:     log,
	}
}

// Path returns the sitemap location.
func (s *Sitemap) Path() string {
	return filepath.Join(s.siteDir, "sitemap.xml")
}

// Regenerate rewrites the whole sitemap. When the listing cannot be read the
// published pages under posts/ are used instead.
func (s *Sitemap) Regenerate(ctx context.Context) error {
	entries, exists, err := s.listing.Load(ctx)
	if err != nil || !exists {
		if err != nil {
			s.log.Warn().Err(err).Msg("listing unreadable, scanning published pages")
		}
		entries, err = scanPublished(s.siteDir)
		if err != nil {
			return err
		}
	}
	data, err := BuildSitemap(s.baseURL, s.pages, entries, s.now())
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path(), data, 0o644)
}

// scanPublished derives listing entries from posts/*.html. Titles come from
// the file name with hyphens turned into spaces.
func scanPublished(siteDir string) ([]PublishedPostSummary, error) {
	matches, err := filepath.Glob(filepath.Join(siteDir, "posts", "*.html"))
	if err != nil {
		return nil, err
	}
	entries := make([]PublishedPostSummary, 0, len(matches))
	for _, m := range matches {
		slug := strings.TrimSuffix(filepath.Base(m), ".html")
		entries = append(entries, PublishedPostSummary{
			Title:   strings.ReplaceAll(slug, "-", " "),
			URLSlug: slug,
			URL:     PostPath(slug),
		})
	}
	return entries, nil
}
