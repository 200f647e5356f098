package pubsched

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Listing is the published-post listing document, most recent first.
type Listing struct {
	path string
}

// NewListing returns the listing stored at path.
func NewListing(path string) *Listing {
	return &Listing{path: path}
}

// Path returns the document location.
func (l *Listing) Path() string {
	return l.path
}

// Load reads the listing. A missing document is an empty listing with
// exists=false; a corrupt one is an error.
func (l *Listing) Load(ctx context.Context) ([]PublishedPostSummary, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []PublishedPostSummary{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []PublishedPostSummary{}, true, nil
	}
	var entries []PublishedPostSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", l.path, err)
	}
	if entries == nil {
		entries = []PublishedPostSummary{}
	}
	return entries, true, nil
}

// Contains reports whether slug is already listed.
func (l *Listing) Contains(ctx context.Context, slug string) (bool, error) {
	entries, _, err := l.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.URLSlug == slug {
			return true, nil
		}
	}
	return false, nil
}

// AddFront inserts entry at position 0 and rewrites the document. An entry
// whose slug is already listed is left alone.
func (l *Listing) AddFront(ctx context.Context, entry PublishedPostSummary) error {
	entries, _, err := l.Load(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.URLSlug == entry.URLSlug {
			return nil
		}
	}
	updated := make([]PublishedPostSummary, 0, len(entries)+1)
	updated = append(updated, entry)
	updated = append(updated, entries...)
	data, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	return nil
}
