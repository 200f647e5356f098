package pubsched

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ListingCache is an in-memory cache of the published listing with TTL.
type ListingCache struct {
	mu      sync.RWMutex
	entries []PublishedPostSummary
	fetched time.Time
	ttl     time.Duration
	listing *Listing
}

// NewListingCache creates a ListingCache backed by listing.
func NewListingCache(listing *Listing, ttl time.Duration) *ListingCache {
	return &ListingCache{listing: listing, ttl: ttl}
}

func (c *ListingCache) valid() bool {
	return c.entries != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *ListingCache) Invalidate() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// ensureLoaded returns the cached entries after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *ListingCache) ensureLoaded(ctx context.Context) ([]PublishedPostSummary, error) {
	c.mu.RLock()
	if c.valid() {
		entries := c.entries
		c.mu.RUnlock()
		return entries, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.entries, nil
	}
	entries, _, err := c.listing.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.fetched = time.Now()
	return entries, nil
}

// List returns published entries, optionally filtered by category.
func (c *ListingCache) List(ctx context.Context, category string) ([]PublishedPostSummary, error) {
	entries, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return entries, nil
	}
	want := normalizeCategory(category)
	filtered := []PublishedPostSummary{}
	for _, e := range entries {
		if normalizeCategory(e.Category) == want {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Get returns the published entry for slug.
func (c *ListingCache) Get(ctx context.Context, slug string) (PublishedPostSummary, error) {
	entries, err := c.ensureLoaded(ctx)
	if err != nil {
		return PublishedPostSummary{}, err
	}
	for _, e := range entries {
		if e.URLSlug == slug {
			return e, nil
		}
	}
	return PublishedPostSummary{}, ErrNotFound
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
