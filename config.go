package pubsched

import (
	"time"

	"github.com/rs/zerolog"
)

// StaticPage is a fixed top-level page listed in the sitemap.
type StaticPage struct {
	Path       string // site-relative path, "/" for the home page
	ChangeFreq string
	Priority   float64
}

// DefaultStaticPages are the top-level pages of the published site.
var DefaultStaticPages = []StaticPage{
	{Path: "/", ChangeFreq: "weekly", Priority: 1.0},
	{Path: "/posts.html", ChangeFreq: "weekly", Priority: 0.9},
	{Path: "/projects.html", ChangeFreq: "monthly", Priority: 0.8},
	{Path: "/recommendations.html", ChangeFreq: "monthly", Priority: 0.7},
}

// SiteConfig holds all configuration for a pubsched site.
type SiteConfig struct {
	Name        string // Site name (default "Blog")
	URL         string // Canonical URL (default "http://localhost:3000")
	Description string // Site description for the feed

	SiteDir      string         // Published site root (default "site")
	QueueBackend string         // "file" (default) or "sqlite"
	QueuePath    string         // Queue document or database path
	TemplatePath string         // Post skeleton; empty uses the embedded one
	Location     *time.Location // Zone for display dates (default UTC)

	Addr          string // Listen address (default ":3000")
	AdminPassword string // Admin login password
	AdminAPIKey   string // Static key accepted in X-API-Key
	SessionSecret string // Required: session encryption secret
	CookieSecure  bool   // Set true for HTTPS

	RedisURL        string        // Enables the cross-process run lock
	PublishInterval time.Duration // Scheduler tick (default 1min)
	ListingCacheTTL time.Duration // Listing cache TTL (default 5min)
	StaticPages     []StaticPage

	Newsletter NewsletterConfig
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Blog"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.SiteDir == "" {
		c.SiteDir = "site"
	}
	if c.QueueBackend == "" {
		c.QueueBackend = "file"
	}
	if c.QueuePath == "" {
		if c.QueueBackend == "sqlite" {
			c.QueuePath = "data/queue.db"
		} else {
			c.QueuePath = "data/scheduled-posts.json"
		}
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.PublishInterval == 0 {
		c.PublishInterval = time.Minute
	}
	if c.ListingCacheTTL == 0 {
		c.ListingCacheTTL = 5 * time.Minute
	}
	if c.StaticPages == nil {
		c.StaticPages = DefaultStaticPages
	}
	if c.Newsletter.SiteName == "" {
		c.Newsletter.SiteName = c.Name
	}
	if c.Newsletter.SiteURL == "" {
		c.Newsletter.SiteURL = c.URL
	}
	if c.Newsletter.Location == nil {
		c.Newsletter.Location = c.Location
	}
}

// Option configures additional App behavior.
type Option func(*App)

// WithLogger sets the logger used by the App and everything it builds.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.Log = l
	}
}

// WithClock overrides the time source of the queue and worker.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// WithLocker replaces the run lock selected from the configuration.
func WithLocker(l Locker) Option {
	return func(a *App) {
		a.locker = l
	}
}

// WithNotifier replaces the newsletter notifier.
func WithNotifier(n Notifier) Option {
	return func(a *App) {
		a.notifier = n
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}
