package pubsched

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueueBackend persists the pending queue as one collection. Load reports
// exists=false when nothing has ever been saved.
type QueueBackend interface {
	Load(ctx context.Context) (posts []ScheduledPost, exists bool, err error)
	Save(ctx context.Context, posts []ScheduledPost) error
}

// Queue is the durable collection of posts awaiting publication.
// It does no locking of its own; callers serialize mutations.
type Queue struct {
	backend QueueBackend
	now     func() time.Time
	newID   func() string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides the time source used for schedule validation.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue returns a Queue stored in backend.
func NewQueue(backend QueueBackend, opts ...QueueOption) *Queue {
	q := &Queue{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load returns the stored posts in stored order.
func (q *Queue) Load(ctx context.Context) ([]ScheduledPost, bool, error) {
	posts, exists, err := q.backend.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load queue: %w", err)
	}
	return posts, exists, nil
}

// Enqueue validates post, assigns its id and appends it.
func (q *Queue) Enqueue(ctx context.Context, post ScheduledPost) (string, error) {
	if err := checkRequired(post); err != nil {
		return "", err
	}
	if !post.ScheduledFor.After(q.now()) {
		return "", ErrInvalidSchedule
	}
	posts, _, err := q.Load(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range posts {
		if p.URLSlug == post.URLSlug {
			return "", ErrDuplicateSlug
		}
	}
	post.ID = q.newID()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = q.now().UTC()
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.SEOKeywords == nil {
		post.SEOKeywords = []string{}
	}
	if err := q.save(ctx, append(posts, post)); err != nil {
		return "", err
	}
	return post.ID, nil
}

// List returns the queued posts ordered by scheduled time, ties kept in
// insertion order.
func (q *Queue) List(ctx context.Context) ([]ScheduledPost, error) {
	posts, _, err := q.Load(ctx)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		return []ScheduledPost{}, nil
	}
	sortBySchedule(posts)
	return posts, nil
}

// RemoveByID deletes the post with id and returns it.
func (q *Queue) RemoveByID(ctx context.Context, id string) (ScheduledPost, error) {
	posts, _, err := q.Load(ctx)
	if err != nil {
		return ScheduledPost{}, err
	}
	for i, p := range posts {
		if p.ID == id {
			rest := append(posts[:i:i], posts[i+1:]...)
			if err := q.save(ctx, rest); err != nil {
				return ScheduledPost{}, err
			}
			return p, nil
		}
	}
	return ScheduledPost{}, ErrNotFound
}

// ReplaceAll overwrites the whole queue with posts.
func (q *Queue) ReplaceAll(ctx context.Context, posts []ScheduledPost) error {
	return q.save(ctx, posts)
}

func (q *Queue) save(ctx context.Context, posts []ScheduledPost) error {
	if posts == nil {
		posts = []ScheduledPost{}
	}
	if err := q.backend.Save(ctx, posts); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func checkRequired(p ScheduledPost) error {
	var missing []string
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(p.Content) == "" {
		missing = append(missing, "content")
	}
	if strings.TrimSpace(p.URLSlug) == "" {
		missing = append(missing, "urlSlug")
	}
	if p.ScheduledFor.IsZero() {
		missing = append(missing, "scheduledFor")
	}
	if len(missing) > 0 {
		return &FieldError{Fields: missing}
	}
	return nil
}

func sortBySchedule(posts []ScheduledPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].ScheduledFor.Before(posts[j].ScheduledFor)
	})
}
