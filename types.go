package pubsched

import "time"

// ScheduledPost is a post waiting in the pending queue. The JSON shape is the
// persisted queue document format.
type ScheduledPost struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	URLSlug         string    `json:"urlSlug"`
	Category        string    `json:"category"`
	Tags            []string  `json:"tags"`
	MetaDescription string    `json:"metaDescription"`
	SEOKeywords     []string  `json:"seoKeywords"`
	ScheduledFor    time.Time `json:"scheduledFor"`
	SendNewsletter  bool      `json:"sendNewsletter"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Due reports whether the post may be published at now.
func (p ScheduledPost) Due(now time.Time) bool {
	return !p.ScheduledFor.After(now)
}

// PublishedPostSummary is one entry of the published listing, most recent first.
type PublishedPostSummary struct {
	Title    string `json:"title"`
	URLSlug  string `json:"urlSlug"`
	Date     string `json:"date"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

// PostOptions carries the optional metadata of a schedule request.
type PostOptions struct {
	URLSlug         string   `json:"urlSlug" validate:"required"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	MetaDescription string   `json:"metaDescription"`
	SEOKeywords     []string `json:"seoKeywords"`
	SendNewsletter  bool     `json:"sendNewsletter"`
}

// ScheduleRequest is the input of ScheduleCreate.
type ScheduleRequest struct {
	Title        string      `json:"title" validate:"required"`
	Content      string      `json:"content" validate:"required"`
	Options      PostOptions `json:"options"`
	ScheduledFor *time.Time  `json:"scheduledFor" validate:"required"`
}

// PublishResult reports the outcome of one worker run.
type PublishResult struct {
	Published int `json:"published"`
	Remaining int `json:"remaining"`
}

// PostPath returns the site-relative URL of a published post.
func PostPath(slug string) string {
	return "/posts/" + slug + ".html"
}
