package pubsched

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testEpoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier captures every notified post.
type recordingNotifier struct {
	mu    sync.Mutex
	posts []ScheduledPost
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, post ScheduledPost) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, post)
	return n.err
}

func (n *recordingNotifier) Slugs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.posts {
		out = append(out, p.URLSlug)
	}
	return out
}

type testPipeline struct {
	siteDir   string
	queuePath string
	clock     *testClock
	queue     *Queue
	listing   *Listing
	sitemap   *Sitemap
	worker    *Worker
	service   *Service
	notifier  *recordingNotifier
}

func newTestPipeline(t *testing.T, opts ...WorkerOption) *testPipeline {
	t.Helper()
	dir := t.TempDir()
	p := &testPipeline{
		siteDir:  filepath.Join(dir, "site"),
		clock:    newTestClock(testEpoch),
		notifier: &recordingNotifier{},
	}
	p.queuePath = filepath.Join(dir, "data", "scheduled-posts.json")
	p.queue = NewQueue(NewFileBackend(p.queuePath), WithQueueClock(p.clock.Now))
	p.listing = NewListing(filepath.Join(p.siteDir, ListingFile))
	p.sitemap = NewSitemap(p.siteDir, "https://example.com", DefaultStaticPages, p.listing, p.clock.Now, zerolog.Nop())
	opts = append([]WorkerOption{
		WithWorkerClock(p.clock.Now),
		WithWorkerNotifier(p.notifier),
	}, opts...)
	p.worker = NewWorker(p.queue, NewCompositor(""), p.listing, p.sitemap, p.siteDir, opts...)
	p.service = NewService(p.queue, p.listing, p.worker, zerolog.Nop())
	return p
}

// otherService returns a Service over the same queue file and site as p,
// the way a second process such as the CLI would see them.
func (p *testPipeline) otherService(locker Locker, opts ...ServiceOption) *Service {
	q := NewQueue(NewFileBackend(p.queuePath), WithQueueClock(p.clock.Now))
	w := NewWorker(q, NewCompositor(""), p.listing, p.sitemap, p.siteDir,
		WithWorkerClock(p.clock.Now),
		WithWorkerLocker(locker),
	)
	return NewService(q, p.listing, w, zerolog.Nop(), opts...)
}

// loadHook runs fn once, right after the first Load of the wrapped backend.
type loadHook struct {
	QueueBackend
	once sync.Once
	fn   func()
}

func (h *loadHook) Load(ctx context.Context) ([]ScheduledPost, bool, error) {
	posts, exists, err := h.QueueBackend.Load(ctx)
	h.once.Do(h.fn)
	return posts, exists, err
}

func scheduleRequest(slug string, at time.Time) ScheduleRequest {
	return ScheduleRequest{
		Title:        "Post " + slug,
		Content:      "Body of **" + slug + "**",
		Options:      PostOptions{URLSlug: slug, Tags: []string{"go"}},
		ScheduledFor: &at,
	}
}

// schedule enqueues a post due at epoch+in.
func (p *testPipeline) schedule(t *testing.T, slug string, in time.Duration) string {
	t.Helper()
	id, err := p.service.ScheduleCreate(context.Background(), scheduleRequest(slug, p.clock.Now().Add(in)))
	if err != nil {
		t.Fatalf("ScheduleCreate(%s): %v", slug, err)
	}
	return id
}

func isFieldError(err error, fields ...string) bool {
	var fe *FieldError
	if !errors.As(err, &fe) || len(fe.Fields) != len(fields) {
		return false
	}
	for i := range fields {
		if fe.Fields[i] != fields[i] {
			return false
		}
	}
	return true
}
