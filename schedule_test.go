package pubsched

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleCreateMissingFields(t *testing.T) {
	p := newTestPipeline(t)
	at := testEpoch.Add(time.Hour)
	tests := []struct {
		name   string
		req    ScheduleRequest
		fields []string
	}{
		{
			name:   "empty",
			req:    ScheduleRequest{},
			fields: []string{"title", "content", "urlSlug", "scheduledFor"},
		},
		{
			name:   "blank title",
			req:    ScheduleRequest{Title: "   ", Content: "x", Options: PostOptions{URLSlug: "x"}, ScheduledFor: &at},
			fields: []string{"title"},
		},
		{
			name:   "slug without usable characters",
			req:    ScheduleRequest{Title: "t", Content: "x", Options: PostOptions{URLSlug: "!!!"}, ScheduledFor: &at},
			fields: []string{"urlSlug"},
		},
		{
			name:   "zero time",
			req:    ScheduleRequest{Title: "t", Content: "x", Options: PostOptions{URLSlug: "x"}, ScheduledFor: &time.Time{}},
			fields: []string{"scheduledFor"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.service.ScheduleCreate(context.Background(), tt.req)
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("ScheduleCreate() error = %v, want ErrMissingField", err)
			}
			if !isFieldError(err, tt.fields...) {
				t.Errorf("ScheduleCreate() error = %v, want fields %v", err, tt.fields)
			}
		})
	}
	require.Empty(t, queuedSlugs(t, p.queue))
}

func TestScheduleCreateAppliesDefaults(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	at := testEpoch.Add(time.Hour)
	id, err := p.service.ScheduleCreate(ctx, ScheduleRequest{
		Title:        "  My First Post  ",
		Content:      "hello",
		Options:      PostOptions{URLSlug: "My First Post!", Tags: []string{" go ", ""}},
		ScheduledFor: &at,
	})
	require.NoError(t, err)

	post, err := p.service.ScheduleGet(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "My First Post", post.Title)
	require.Equal(t, "my-first-post", post.URLSlug)
	require.Equal(t, "general", post.Category)
	require.Equal(t, "My First Post", post.MetaDescription)
	require.Equal(t, []string{"go"}, post.Tags)
	require.NotNil(t, post.SEOKeywords)
	require.Empty(t, post.SEOKeywords)
	require.False(t, post.SendNewsletter)
	require.True(t, post.CreatedAt.Equal(testEpoch))
}

func TestScheduleCreateRejectsPublishedSlug(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, p.listing.AddFront(ctx, PublishedPostSummary{Title: "Old", URLSlug: "old", URL: PostPath("old")}))

	at := testEpoch.Add(time.Hour)
	_, err := p.service.ScheduleCreate(ctx, ScheduleRequest{
		Title: "Old again", Content: "x", Options: PostOptions{URLSlug: "old"}, ScheduledFor: &at,
	})
	require.ErrorIs(t, err, ErrDuplicateSlug)
	require.True(t, IsValidation(err))
	require.Empty(t, queuedSlugs(t, p.queue))
}

func TestScheduleCreateRejectsPast(t *testing.T) {
	p := newTestPipeline(t)
	for _, at := range []time.Time{testEpoch, testEpoch.Add(-time.Second)} {
		at := at
		_, err := p.service.ScheduleCreate(context.Background(), ScheduleRequest{
			Title: "t", Content: "x", Options: PostOptions{URLSlug: "t"}, ScheduledFor: &at,
		})
		require.ErrorIs(t, err, ErrInvalidSchedule)
	}
}

func TestScheduleCreatePastBeatsPublishedSlug(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, p.listing.AddFront(ctx, PublishedPostSummary{Title: "Old", URLSlug: "old", URL: PostPath("old")}))

	_, err := p.service.ScheduleCreate(ctx, scheduleRequest("old", testEpoch.Add(-time.Hour)))
	require.ErrorIs(t, err, ErrInvalidSchedule)
	require.NotErrorIs(t, err, ErrDuplicateSlug)
}

func TestScheduleMutationsHonourRunLock(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	p := newTestPipeline(t, WithWorkerLocker(locker))
	keptID := p.schedule(t, "kept", time.Hour)

	other := p.otherService(locker, WithLockWait(0))
	release, err := locker.Acquire(ctx)
	require.NoError(t, err)

	_, err = other.ScheduleCreate(ctx, scheduleRequest("late", testEpoch.Add(2*time.Hour)))
	require.ErrorIs(t, err, ErrPublishInProgress)
	_, err = other.ScheduleDelete(ctx, keptID)
	require.ErrorIs(t, err, ErrPublishInProgress)
	require.Equal(t, []string{"kept"}, queuedSlugs(t, p.queue))
	release()

	waiting := p.otherService(locker, WithLockWait(5*time.Second))
	release, err = locker.Acquire(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := waiting.ScheduleCreate(ctx, scheduleRequest("late", testEpoch.Add(2*time.Hour)))
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("ScheduleCreate returned %v while the run lock was held", err)
	case <-time.After(100 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)
	require.Equal(t, []string{"kept", "late"}, queuedSlugs(t, p.queue))
}

func TestScheduleCreateWaitHonoursContext(t *testing.T) {
	locker := NewMemoryLocker()
	p := newTestPipeline(t, WithWorkerLocker(locker))
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	svc := p.otherService(locker, WithLockWait(time.Minute))
	_, err = svc.ScheduleCreate(ctx, scheduleRequest("late", testEpoch.Add(time.Hour)))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, queuedSlugs(t, p.queue))
}

func TestScheduleCreateThenListIncludesPost(t *testing.T) {
	p := newTestPipeline(t)
	id := p.schedule(t, "listed", time.Hour)

	posts, err := p.service.ScheduleList(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, id, posts[0].ID)
	require.True(t, posts[0].ScheduledFor.Equal(testEpoch.Add(time.Hour)))
}

func TestScheduleDelete(t *testing.T) {
	p := newTestPipeline(t)
	id := p.schedule(t, "gone", time.Hour)

	post, err := p.service.ScheduleDelete(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "gone", post.URLSlug)

	_, err = p.service.ScheduleDelete(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, queuedSlugs(t, p.queue))
}

func TestSchedulePreview(t *testing.T) {
	p := newTestPipeline(t)
	id := p.schedule(t, "peek", time.Hour)

	page, err := p.service.Preview(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, page, "<strong>peek</strong>")

	_, err = p.service.Preview(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPublishNow(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	p.schedule(t, "queued", time.Hour)

	req := scheduleRequest("right-away", time.Time{})
	req.ScheduledFor = nil
	entry, err := p.service.PublishNow(ctx, req)
	require.NoError(t, err)
	require.Equal(t, PublishedPostSummary{
		Title:    "Post right-away",
		URLSlug:  "right-away",
		Date:     "March 10, 2025",
		Category: "general",
		URL:      "/posts/right-away.html",
	}, entry)

	page := readFile(t, filepath.Join(p.siteDir, "posts", "right-away.html"))
	require.Contains(t, page, "<strong>right-away</strong>")
	entries, _, err := p.listing.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []PublishedPostSummary{entry}, entries)
	require.Contains(t, readFile(t, p.sitemap.Path()), "<loc>https://example.com/posts/right-away.html</loc>")

	require.Equal(t, []string{"queued"}, queuedSlugs(t, p.queue))
	p.service.Wait()
	require.Empty(t, p.notifier.Slugs())
}

func TestPublishNowUsesGivenDate(t *testing.T) {
	p := newTestPipeline(t)
	entry, err := p.service.PublishNow(context.Background(), scheduleRequest("back-dated", testEpoch.AddDate(0, -1, 0)))
	require.NoError(t, err)
	require.Equal(t, "February 10, 2025", entry.Date)
}

func TestPublishNowRejectsTakenSlug(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()
	p.schedule(t, "queued", time.Hour)
	require.NoError(t, p.listing.AddFront(ctx, PublishedPostSummary{Title: "Old", URLSlug: "old", URL: PostPath("old")}))

	for _, slug := range []string{"queued", "old"} {
		_, err := p.service.PublishNow(ctx, scheduleRequest(slug, testEpoch))
		require.ErrorIs(t, err, ErrDuplicateSlug, slug)
	}
	require.NoFileExists(t, filepath.Join(p.siteDir, "posts", "queued.html"))
}

func TestPublishNowMissingFields(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.service.PublishNow(context.Background(), ScheduleRequest{})
	require.ErrorIs(t, err, ErrMissingField)
	require.True(t, isFieldError(err, "title", "content", "urlSlug"))
	entries, _, err := p.listing.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPublishNowSendsNewsletter(t *testing.T) {
	p := newTestPipeline(t)
	req := scheduleRequest("announce", testEpoch)
	req.Options.SendNewsletter = true
	_, err := p.service.PublishNow(context.Background(), req)
	require.NoError(t, err)
	p.service.Wait()
	require.Equal(t, []string{"announce"}, p.notifier.Slugs())
}
