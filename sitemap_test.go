package pubsched

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func parseSitemap(t *testing.T, data []byte) sitemapURLSet {
	t.Helper()
	var set sitemapURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		t.Fatalf("invalid sitemap: %v\n%s", err, data)
	}
	return set
}

func TestBuildSitemap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	data, err := BuildSitemap("https://example.com", DefaultStaticPages, []PublishedPostSummary{
		{URLSlug: "dated", Date: "March 10, 2025"},
		{URLSlug: "undated", Date: "sometime"},
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), xml.Header) {
		t.Errorf("sitemap should start with the XML header")
	}
	set := parseSitemap(t, data)
	if set.XMLNS != "http://www.sitemaps.org/schemas/sitemap/0.9" {
		t.Errorf("xmlns = %q", set.XMLNS)
	}

	want := []sitemapURL{
		{Loc: "https://example.com/", LastMod: "2025-06-01", ChangeFreq: "weekly", Priority: "1.0"},
		{Loc: "https://example.com/posts.html", LastMod: "2025-06-01", ChangeFreq: "weekly", Priority: "0.9"},
		{Loc: "https://example.com/projects.html", LastMod: "2025-06-01", ChangeFreq: "monthly", Priority: "0.8"},
		{Loc: "https://example.com/recommendations.html", LastMod: "2025-06-01", ChangeFreq: "monthly", Priority: "0.7"},
		{Loc: "https://example.com/posts/dated.html", LastMod: "2025-03-10", ChangeFreq: "monthly", Priority: "0.6"},
		{Loc: "https://example.com/posts/undated.html", LastMod: "2025-06-01", ChangeFreq: "monthly", Priority: "0.6"},
	}
	if len(set.URLs) != len(want) {
		t.Fatalf("got %d urls, want %d", len(set.URLs), len(want))
	}
	for i := range want {
		if set.URLs[i] != want[i] {
			t.Errorf("url[%d] = %+v, want %+v", i, set.URLs[i], want[i])
		}
	}
}

func TestSitemapRegenerateFallsBackToScan(t *testing.T) {
	siteDir := t.TempDir()
	postsDir := filepath.Join(siteDir, "posts")
	if err := os.MkdirAll(postsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"alpha-post.html", "beta.html", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(postsDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Corrupt listing forces the scan.
	listingPath := filepath.Join(siteDir, ListingFile)
	if err := os.WriteFile(listingPath, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	s := NewSitemap(siteDir, "https://example.com", nil, NewListing(listingPath), now, zerolog.Nop())
	if err := s.Regenerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	set := parseSitemap(t, data)
	var locs []string
	for _, u := range set.URLs {
		locs = append(locs, u.Loc)
	}
	want := []string{"https://example.com/posts/alpha-post.html", "https://example.com/posts/beta.html"}
	if strings.Join(locs, ",") != strings.Join(want, ",") {
		t.Errorf("locs = %v, want %v", locs, want)
	}
}

func TestScanPublishedDerivesTitles(t *testing.T) {
	siteDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(siteDir, "posts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(siteDir, "posts", "hello-big-world.html"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := scanPublished(siteDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Title != "hello big world" || entries[0].URL != "/posts/hello-big-world.html" {
		t.Errorf("scanPublished() = %+v", entries)
	}
}
