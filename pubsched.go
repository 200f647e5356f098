// Package pubsched publishes markdown posts to a static site on a schedule.
// Authors queue posts with a future publish time; a worker periodically
// renders every due post into posts/<slug>.html, prepends it to the post
// listing, regenerates sitemap.xml and removes it from the queue.
//
// The package also provides an Echo server exposing the queue over HTTP and
// serving the generated site.
package pubsched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ListingFile is the name of the listing document in the site directory.
const ListingFile = "posts-listing.json"

// App is the central pubsched application. It wires together the queue,
// worker, listing cache, handlers and middleware.
type App struct {
	Config  SiteConfig
	Echo    *echo.Echo
	Service *Service
	Cache   *ListingCache
	Log     zerolog.Logger

	loginLimiter *LoginLimiter
	locker       Locker
	notifier     Notifier
	newsletter   *Newsletter
	now          func() time.Time
	customRoutes []func(*App)
	closers      []io.Closer
}

// New creates an App for cfg: it opens the queue backend, builds the
// publishing pipeline and registers middleware and routes.
func New(cfg SiteConfig, opts ...Option) (*App, error) {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return a, nil
}

func (a *App) build() error {
	backend, err := a.openBackend()
	if err != nil {
		return fmt.Errorf("pubsched: init queue: %w", err)
	}
	queue := NewQueue(backend, WithQueueClock(a.now))
	listing := NewListing(filepath.Join(a.Config.SiteDir, ListingFile))
	sitemap := NewSitemap(a.Config.SiteDir, a.Config.URL, a.Config.StaticPages, listing, a.now,
		a.Log.With().Str("component", "sitemap").Logger())

	if a.locker == nil {
		if a.Config.RedisURL != "" {
			rl, err := NewRedisLocker(context.Background(), a.Config.RedisURL, "", 0)
			if err != nil {
				return fmt.Errorf("pubsched: init run lock: %w", err)
			}
			a.closers = append(a.closers, rl)
			a.locker = rl
		} else {
			a.locker = NewMemoryLocker()
		}
	}
	a.newsletter = NewNewsletter(a.Config.Newsletter, a.Log.With().Str("component", "newsletter").Logger())
	if a.notifier == nil && a.Config.Newsletter.Enabled() {
		a.notifier = a.newsletter
	}

	worker := NewWorker(queue, NewCompositor(a.Config.TemplatePath), listing, sitemap, a.Config.SiteDir,
		WithWorkerClock(a.now),
		WithWorkerLocker(a.locker),
		WithWorkerNotifier(a.notifier),
		WithLocation(a.Config.Location),
		WithWorkerLogger(a.Log.With().Str("component", "worker").Logger()),
	)
	a.Service = NewService(queue, listing, worker, a.Log.With().Str("component", "schedule").Logger())
	a.Cache = NewListingCache(listing, a.Config.ListingCacheTTL)
	a.loginLimiter = NewLoginLimiter(5, time.Minute)
	return nil
}

func (a *App) openBackend() (QueueBackend, error) {
	switch a.Config.QueueBackend {
	case "file":
		return NewFileBackend(a.Config.QueuePath), nil
	case "sqlite":
		b, err := NewSQLiteBackend(a.Config.QueuePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.Config.QueueBackend)
	}
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/feed.xml", a.handleFeed)

	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)

	api := e.Group("/api", a.requireAdmin)
	api.POST("/scheduled-posts", a.handleScheduleCreate)
	api.GET("/scheduled-posts", a.handleScheduleList)
	api.DELETE("/scheduled-posts", a.handleScheduleDelete)
	api.DELETE("/scheduled-posts/:id", a.handleScheduleDelete)
	api.GET("/scheduled-posts/:id/preview", a.handleSchedulePreview)
	api.POST("/publish", a.handlePublish)
	api.GET("/posts", a.handlePosts)
	api.POST("/posts", a.handlePublishNow)
	api.GET("/posts/:slug", a.handlePost)
	api.POST("/newsletter/welcome", a.handleWelcome)
	api.GET("/images", a.handleImageList)
	api.POST("/images", a.handleImageUpload)
	api.DELETE("/images/:filename", a.handleImageDelete)

	// The generated site: pages, listing, sitemap and uploads.
	e.Static("/", a.Config.SiteDir)
}

// validate checks the settings needed to serve HTTP.
func (a *App) validate() error {
	if a.Config.SessionSecret == "" {
		return errors.New("pubsched: SessionSecret is required")
	}
	if a.Config.AdminPassword == "" && a.Config.AdminAPIKey == "" {
		return errors.New("pubsched: AdminPassword or AdminAPIKey is required")
	}
	return nil
}

// Start starts the HTTP server and blocks until it stops.
func (a *App) Start() error {
	if err := a.validate(); err != nil {
		return err
	}
	a.Log.Info().Str("addr", a.Config.Addr).Msg("listening")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves HTTP and publishes due posts every PublishInterval until ctx
// is cancelled, then shuts the server down and waits for newsletters.
func (a *App) Run(ctx context.Context) error {
	if err := a.validate(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start()
	}()
	go a.RunScheduler(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.Echo.Shutdown(shutdownCtx)
	a.Service.Wait()
	return err
}

// RunScheduler publishes due posts now and then on every tick until ctx is
// cancelled.
func (a *App) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(a.Config.PublishInterval)
	defer ticker.Stop()
	for {
		if _, err := a.PublishDue(ctx); err != nil && !errors.Is(err, ErrPublishInProgress) && ctx.Err() == nil {
			a.Log.Error().Err(err).Msg("scheduled publish run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PublishDue runs the worker once and drops the listing cache when
// something was published.
func (a *App) PublishDue(ctx context.Context) (PublishResult, error) {
	res, err := a.Service.PublishDue(ctx)
	if res.Published > 0 {
		a.Cache.Invalidate()
	}
	return res, err
}

// PublishNow publishes req immediately and drops the listing cache.
func (a *App) PublishNow(ctx context.Context, req ScheduleRequest) (PublishedPostSummary, error) {
	entry, err := a.Service.PublishNow(ctx, req)
	if err == nil {
		a.Cache.Invalidate()
	}
	return entry, err
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
