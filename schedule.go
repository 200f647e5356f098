package pubsched

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	defaultCategory   = "general"
	lockRetryInterval = 50 * time.Millisecond
)

// Service exposes the scheduling operations. Every queue mutation takes the
// worker's run lock, so with a shared Locker an enqueue from another
// process never lands between a run's load and its final rewrite.
type Service struct {
	mu       sync.Mutex
	queue    *Queue
	listing  *Listing
	worker   *Worker
	validate *validator.Validate
	lockWait time.Duration
	log      zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLockWait sets how long a create or delete waits for a running publish
// before failing with ErrPublishInProgress. Zero fails at once.
func WithLockWait(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.lockWait = d
		}
	}
}

// NewService returns a Service over queue, listing and worker.
func NewService(queue *Queue, listing *Listing, worker *Worker, log zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		queue:    queue,
		listing:  listing,
		worker:   worker,
		validate: newValidator(),
		lockWait: 10 * time.Second,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ScheduleCreate validates req and enqueues it, returning the new post id.
func (s *Service) ScheduleCreate(ctx context.Context, req ScheduleRequest) (string, error) {
	req = normalizeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return "", err
	}
	if !req.ScheduledFor.After(s.queue.now()) {
		return "", ErrInvalidSchedule
	}

	release, err := s.lockQueue(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPublished(ctx, req.Options.URLSlug); err != nil {
		return "", err
	}
	post := postFromRequest(req)
	id, err := s.queue.Enqueue(ctx, post)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("id", id).Str("slug", post.URLSlug).Time("scheduledFor", post.ScheduledFor).Msg("post scheduled")
	return id, nil
}

// ScheduleList returns the queued posts in publication order.
func (s *Service) ScheduleList(ctx context.Context) ([]ScheduledPost, error) {
	return s.queue.List(ctx)
}

// ScheduleGet returns the queued post with id.
func (s *Service) ScheduleGet(ctx context.Context, id string) (ScheduledPost, error) {
	posts, err := s.queue.List(ctx)
	if err != nil {
		return ScheduledPost{}, err
	}
	for _, p := range posts {
		if p.ID == id {
			return p, nil
		}
	}
	return ScheduledPost{}, ErrNotFound
}

// ScheduleDelete removes the queued post with id and returns it.
func (s *Service) ScheduleDelete(ctx context.Context, id string) (ScheduledPost, error) {
	release, err := s.lockQueue(ctx)
	if err != nil {
		return ScheduledPost{}, err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	post, err := s.queue.RemoveByID(ctx, id)
	if err != nil {
		return ScheduledPost{}, err
	}
	s.log.Info().Str("id", id).Str("slug", post.URLSlug).Msg("scheduled post deleted")
	return post, nil
}

// PublishDue runs the worker once. It fails fast with ErrPublishInProgress
// when another run holds the run lock.
func (s *Service) PublishDue(ctx context.Context) (PublishResult, error) {
	release, err := s.worker.locker.Acquire(ctx)
	if err != nil {
		return PublishResult{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker.run(ctx)
}

// PublishNow publishes req at once through the worker's stages, bypassing
// the queue. ScheduledFor is optional and only dates the post; it defaults
// to now. The slug must be free in both the queue and the listing.
func (s *Service) PublishNow(ctx context.Context, req ScheduleRequest) (PublishedPostSummary, error) {
	now := s.queue.now()
	if req.ScheduledFor == nil || req.ScheduledFor.IsZero() {
		req.ScheduledFor = &now
	}
	req = normalizeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return PublishedPostSummary{}, err
	}

	release, err := s.lockQueue(ctx)
	if err != nil {
		return PublishedPostSummary{}, err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPublished(ctx, req.Options.URLSlug); err != nil {
		return PublishedPostSummary{}, err
	}
	queued, err := s.queue.List(ctx)
	if err != nil {
		return PublishedPostSummary{}, err
	}
	for _, p := range queued {
		if p.URLSlug == req.Options.URLSlug {
			return PublishedPostSummary{}, ErrDuplicateSlug
		}
	}

	post := postFromRequest(req)
	post.ID = s.queue.newID()
	post.CreatedAt = now.UTC()
	if err := s.worker.publish(ctx, post); err != nil {
		return PublishedPostSummary{}, err
	}
	s.log.Info().Str("id", post.ID).Str("slug", post.URLSlug).Msg("post published immediately")
	if post.SendNewsletter {
		s.worker.notify(ctx, post)
	}
	return s.worker.summary(post), nil
}

// Preview renders the page a queued post would be published as.
func (s *Service) Preview(ctx context.Context, id string) (string, error) {
	post, err := s.ScheduleGet(ctx, id)
	if err != nil {
		return "", err
	}
	return s.worker.Render(post)
}

// Wait blocks until in-flight newsletters finish.
func (s *Service) Wait() {
	s.worker.Wait()
}

// lockQueue takes the run lock, retrying for up to lockWait while a publish
// run holds it.
func (s *Service) lockQueue(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(s.lockWait)
	for {
		release, err := s.worker.locker.Acquire(ctx)
		if !errors.Is(err, ErrPublishInProgress) || !time.Now().Before(deadline) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// checkPublished fails with ErrDuplicateSlug when slug is already listed.
// An unreadable listing is logged and skipped.
func (s *Service) checkPublished(ctx context.Context, slug string) error {
	listed, err := s.listing.Contains(ctx, slug)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing unreadable, skipping published slug check")
		return nil
	}
	if listed {
		return ErrDuplicateSlug
	}
	return nil
}

func postFromRequest(req ScheduleRequest) ScheduledPost {
	return ScheduledPost{
		Title:           req.Title,
		Content:         req.Content,
		URLSlug:         req.Options.URLSlug,
		Category:        req.Options.Category,
		Tags:            req.Options.Tags,
		MetaDescription: req.Options.MetaDescription,
		SEOKeywords:     req.Options.SEOKeywords,
		ScheduledFor:    req.ScheduledFor.UTC(),
		SendNewsletter:  req.Options.SendNewsletter,
	}
}

func normalizeRequest(req ScheduleRequest) ScheduleRequest {
	req.Title = strings.TrimSpace(req.Title)
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}
	req.Options.URLSlug = Slugify(req.Options.URLSlug)
	req.Options.Category = strings.TrimSpace(req.Options.Category)
	if req.Options.Category == "" {
		req.Options.Category = defaultCategory
	}
	req.Options.MetaDescription = strings.TrimSpace(req.Options.MetaDescription)
	if req.Options.MetaDescription == "" {
		req.Options.MetaDescription = req.Title
	}
	req.Options.Tags = FilterEmpty(req.Options.Tags)
	req.Options.SEOKeywords = FilterEmpty(req.Options.SEOKeywords)
	if req.ScheduledFor != nil && req.ScheduledFor.IsZero() {
		req.ScheduledFor = nil
	}
	return req
}

func (s *Service) validateRequest(req ScheduleRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &FieldError{Fields: fields}
}
