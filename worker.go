package pubsched

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eringen/pubsched/markdown"
)

// Worker publishes every due post of the queue. A post whose publication
// fails at any stage stays queued unchanged and is retried on the next run.
type Worker struct {
	queue      *Queue
	compositor *Compositor
	listing    *Listing
	sitemap    *Sitemap
	siteDir    string
	loc        *time.Location

	locker        Locker
	notifier      Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger

	notifications sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerClock overrides the time source used to decide which posts are due.
func WithWorkerClock(clock func() time.Time) WorkerOption {
	return func(w *Worker) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithWorkerLogger sets the logger for run and per-post events.
func WithWorkerLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.log = l
	}
}

// WithWorkerLocker replaces the default in-process run lock.
func WithWorkerLocker(l Locker) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.locker = l
		}
	}
}

// WithWorkerNotifier sets the notifier told about posts with SendNewsletter.
// A nil notifier disables notifications.
func WithWorkerNotifier(n Notifier) WorkerOption {
	return func(w *Worker) {
		w.notifier = n
	}
}

// WithNotifyTimeout bounds each notification. The default is two minutes.
func WithNotifyTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.notifyTimeout = d
		}
	}
}

// WithLocation sets the zone used for display dates. The default is UTC.
func WithLocation(loc *time.Location) WorkerOption {
	return func(w *Worker) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// NewWorker returns a Worker writing pages under <siteDir>/posts.
func NewWorker(queue *Queue, compositor *Compositor, listing *Listing, sitemap *Sitemap, siteDir string, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:         queue,
		compositor:    compositor,
		listing:       listing,
		sitemap:       sitemap,
		siteDir:       siteDir,
		loc:           time.UTC,
		locker:        NewMemoryLocker(),
		notifyTimeout: 2 * time.Minute,
		now:           time.Now,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run takes the run lock and publishes the due posts.
func (w *Worker) Run(ctx context.Context) (PublishResult, error) {
	release, err := w.locker.Acquire(ctx)
	if err != nil {
		return PublishResult{}, err
	}
	defer release()
	return w.run(ctx)
}

// Wait blocks until every newsletter started by earlier runs has finished.
func (w *Worker) Wait() {
	w.notifications.Wait()
}

// run does the work of Run; the caller holds the run lock.
func (w *Worker) run(ctx context.Context) (PublishResult, error) {
	posts, exists, err := w.queue.Load(ctx)
	if err != nil {
		return PublishResult{}, err
	}
	if !exists || len(posts) == 0 {
		w.log.Debug().Msg("no scheduled posts")
		return PublishResult{}, nil
	}

	now := w.now()
	var due []ScheduledPost
	for _, p := range posts {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		return PublishResult{Remaining: len(posts)}, nil
	}
	sortBySchedule(due)

	done := make(map[string]bool, len(due))
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		if err := w.publish(ctx, p); err != nil {
			w.log.Error().Err(err).Str("id", p.ID).Str("slug", p.URLSlug).Msg("publish failed, post retained")
			continue
		}
		done[p.ID] = true
		w.log.Info().Str("id", p.ID).Str("slug", p.URLSlug).Msg("post published")
		if p.SendNewsletter {
			w.notify(ctx, p)
		}
	}

	if len(done) == 0 {
		// Every due post failed or the run was cancelled; the queue is
		// already what it should be.
		return PublishResult{Remaining: len(posts)}, nil
	}

	// A cancelled run context must not stop the queue from recording what
	// was already published.
	wctx := context.WithoutCancel(ctx)
	remaining, err := w.remainder(wctx, done)
	if err != nil {
		return PublishResult{Published: len(done), Remaining: len(posts) - len(done)}, err
	}
	if err := w.queue.ReplaceAll(wctx, remaining); err != nil {
		return PublishResult{Published: len(done), Remaining: len(remaining)}, err
	}
	w.log.Info().Int("published", len(done)).Int("remaining", len(remaining)).Msg("publish run complete")
	return PublishResult{Published: len(done), Remaining: len(remaining)}, nil
}

// remainder is the queue to write back: the not-due and failed posts. The
// queue is reloaded first so that posts enqueued or deleted by another
// process during the run are kept or stay deleted.
func (w *Worker) remainder(ctx context.Context, done map[string]bool) ([]ScheduledPost, error) {
	current, _, err := w.queue.Load(ctx)
	if err != nil {
		return nil, err
	}
	remaining := make([]ScheduledPost, 0, len(current))
	for _, p := range current {
		if !done[p.ID] {
			remaining = append(remaining, p)
		}
	}
	sortBySchedule(remaining)
	return remaining, nil
}

// publish runs the render, page, listing and sitemap stages for one post.
func (w *Worker) publish(ctx context.Context, p ScheduledPost) error {
	page, err := w.Render(p)
	if err != nil {
		return err
	}
	path := filepath.Join(w.siteDir, "posts", p.URLSlug+".html")
	if err := writeFileAtomic(path, []byte(page), 0o644); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteError, path, err)
	}
	if err := w.listing.AddFront(ctx, w.summary(p)); err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if err := w.sitemap.Regenerate(ctx); err != nil {
		return fmt.Errorf("regenerate sitemap: %w", err)
	}
	return nil
}

// summary is the listing entry for p, dated by its scheduled time.
func (w *Worker) summary(p ScheduledPost) PublishedPostSummary {
	return PublishedPostSummary{
		Title:    p.Title,
		URLSlug:  p.URLSlug,
		Date:     FormatDisplayDate(p.ScheduledFor, w.loc),
		Category: p.Category,
		URL:      PostPath(p.URLSlug),
	}
}

// Render returns the full page document for p without writing anything.
func (w *Worker) Render(p ScheduledPost) (string, error) {
	return w.compositor.Compose(markdown.ToHTML(p.Content), PageMeta{
		Title:           p.Title,
		Date:            FormatDisplayDate(p.ScheduledFor, w.loc),
		Category:        p.Category,
		Tags:            p.Tags,
		MetaDescription: p.MetaDescription,
		Keywords:        p.SEOKeywords,
		Slug:            p.URLSlug,
	})
}

func (w *Worker) notify(ctx context.Context, p ScheduledPost) {
	if w.notifier == nil {
		return
	}
	w.notifications.Add(1)
	go func() {
		defer w.notifications.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.notifyTimeout)
		defer cancel()
		if err := w.notifier.Notify(nctx, p); err != nil {
			lvl := w.log.Warn()
			if !errors.Is(err, ErrDeliveryError) {
				lvl = w.log.Error()
			}
			lvl.Err(err).Str("slug", p.URLSlug).Msg("newsletter not delivered")
		}
	}()
}
