package pubsched

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasttemplate"

	"github.com/eringen/pubsched/markdown"
)

// Notifier announces a freshly published post. Errors are reported to the
// caller but never affect publication state.
type Notifier interface {
	Notify(ctx context.Context, post ScheduledPost) error
}

// NewsletterConfig configures the Resend and Supabase collaborators.
type NewsletterConfig struct {
	ResendAPIKey  string
	ResendBaseURL string // default "https://api.resend.com"
	From          string // "Name <address>"
	SupabaseURL   string
	SupabaseKey   string
	SiteName      string
	SiteURL       string
	Location      *time.Location
}

// Enabled reports whether enough is configured to send mail.
func (c NewsletterConfig) Enabled() bool {
	return c.ResendAPIKey != "" && c.From != "" && c.SupabaseURL != "" && c.SupabaseKey != ""
}

// Subscriber is an active newsletter subscriber.
type Subscriber struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type resendEmail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Newsletter mails a post excerpt to every active subscriber, one message
// per subscriber.
type Newsletter struct {
	cfg      NewsletterConfig
	resend   *resty.Client
	supabase *resty.Client
	log      zerolog.Logger
}

// NewNewsletter returns a Newsletter for cfg.
func NewNewsletter(cfg NewsletterConfig, log zerolog.Logger) *Newsletter {
	if cfg.ResendBaseURL == "" {
		cfg.ResendBaseURL = "https://api.resend.com"
	}
	return &Newsletter{
		cfg: cfg,
		resend: resty.New().
			SetBaseURL(strings.TrimRight(cfg.ResendBaseURL, "/")).
			SetTimeout(15 * time.Second).
			SetAuthToken(cfg.ResendAPIKey),
		supabase: resty.New().
			SetBaseURL(strings.TrimRight(cfg.SupabaseURL, "/")).
			SetTimeout(15*time.Second).
			SetHeader("apikey", cfg.SupabaseKey).
			SetAuthToken(cfg.SupabaseKey),
		log: log,
	}
}

// Subscribers fetches the active subscribers from Supabase.
func (n *Newsletter) Subscribers(ctx context.Context) ([]Subscriber, error) {
	var subs []Subscriber
	resp, err := n.supabase.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"select": "email,name",
			"status": "eq.active",
		}).
		SetResult(&subs).
		Get("/rest/v1/newsletter_subscribers")
	if err != nil {
		return nil, fmt.Errorf("fetch subscribers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch subscribers: status %d: %s", resp.StatusCode(), resp.String())
	}
	return subs, nil
}

// Notify sends post to every active subscriber. Individual failures are
// counted and reported together as ErrDeliveryError.
func (n *Newsletter) Notify(ctx context.Context, post ScheduledPost) error {
	if !n.cfg.Enabled() {
		return fmt.Errorf("%w: newsletter not configured", ErrDeliveryError)
	}
	subs, err := n.Subscribers(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryError, err)
	}
	htmlBody, textBody, err := n.render(post)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryError, err)
	}

	sent, failed := 0, 0
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			failed += len(subs) - sent - failed
			break
		}
		email := url.QueryEscape(sub.Email)
		msg := resendEmail{
			From:    n.cfg.From,
			To:      sub.Email,
			Subject: post.Title,
			HTML:    strings.ReplaceAll(htmlBody, "{{EMAIL}}", email),
			Text:    strings.ReplaceAll(textBody, "{{EMAIL}}", email),
		}
		if err := n.send(ctx, msg); err != nil {
			failed++
			n.log.Warn().Err(err).Str("slug", post.URLSlug).Str("email", sub.Email).Msg("newsletter send failed")
			continue
		}
		sent++
	}
	n.log.Info().Str("slug", post.URLSlug).Int("sent", sent).Int("failed", failed).Msg("newsletter delivered")
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d messages failed", ErrDeliveryError, failed, len(subs))
	}
	return nil
}

// send posts one message to Resend.
func (n *Newsletter) send(ctx context.Context, msg resendEmail) error {
	resp, err := n.resend.R().
		SetContext(ctx).
		SetBody(msg).
		Post("/emails")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Welcome mails the welcome message to a new subscriber and marks the
// subscriber record as welcomed. A failed record update is only logged.
func (n *Newsletter) Welcome(ctx context.Context, sub Subscriber) error {
	if !n.cfg.Enabled() {
		return fmt.Errorf("%w: newsletter not configured", ErrDeliveryError)
	}
	name := strings.TrimSpace(sub.Name)
	if name == "" {
		name = "there"
	}
	htmlBody, textBody, err := n.renderWelcome(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryError, err)
	}
	email := url.QueryEscape(sub.Email)
	msg := resendEmail{
		From:    n.cfg.From,
		To:      sub.Email,
		Subject: "Welcome to the " + n.cfg.SiteName + " newsletter!",
		HTML:    strings.ReplaceAll(htmlBody, "{{EMAIL}}", email),
		Text:    strings.ReplaceAll(textBody, "{{EMAIL}}", email),
	}
	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: welcome %s: %v", ErrDeliveryError, sub.Email, err)
	}

	resp, err := n.supabase.R().
		SetContext(ctx).
		SetQueryParam("email", "eq."+sub.Email).
		SetHeader("Prefer", "return=minimal").
		SetBody(map[string]any{
			"welcome_email_sent":    true,
			"welcome_email_sent_at": time.Now().UTC().Format(time.RFC3339),
		}).
		Patch("/rest/v1/newsletter_subscribers")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if err != nil {
		n.log.Warn().Err(err).Str("email", sub.Email).Msg("welcome sent but subscriber not updated")
	}
	n.log.Info().Str("email", sub.Email).Msg("welcome email sent")
	return nil
}

func (n *Newsletter) renderWelcome(name string) (string, string, error) {
	htmlTmpl, err := EmbeddedTemplates.ReadFile("templates/welcome.html")
	if err != nil {
		return "", "", err
	}
	textTmpl, err := EmbeddedTemplates.ReadFile("templates/welcome.txt")
	if err != nil {
		return "", "", err
	}
	unsubscribe := BuildURL(n.cfg.SiteURL, "unsubscribe")
	htmlBody, err := fillTemplate(string(htmlTmpl), map[string]string{
		"SITE_NAME":       html.EscapeString(n.cfg.SiteName),
		"SITE_URL":        html.EscapeString(n.cfg.SiteURL),
		"NAME":            html.EscapeString(name),
		"UNSUBSCRIBE_URL": html.EscapeString(unsubscribe),
	})
	if err != nil {
		return "", "", err
	}
	textBody, err := fillTemplate(string(textTmpl), map[string]string{
		"SITE_NAME":       n.cfg.SiteName,
		"SITE_URL":        n.cfg.SiteURL,
		"NAME":            name,
		"UNSUBSCRIBE_URL": unsubscribe,
	})
	if err != nil {
		return "", "", err
	}
	return htmlBody, textBody, nil
}

// render fills the post fields of both email templates. {{EMAIL}} is left
// in place for the per-subscriber pass.
func (n *Newsletter) render(post ScheduledPost) (string, string, error) {
	htmlTmpl, err := EmbeddedTemplates.ReadFile("templates/newsletter.html")
	if err != nil {
		return "", "", err
	}
	textTmpl, err := EmbeddedTemplates.ReadFile("templates/newsletter.txt")
	if err != nil {
		return "", "", err
	}
	postURL := BuildURL(n.cfg.SiteURL, "posts", post.URLSlug+".html")
	unsubscribe := BuildURL(n.cfg.SiteURL, "unsubscribe")
	excerpt := Excerpt(markdown.ToHTML(post.Content), 300)
	date := FormatDisplayDate(post.ScheduledFor, n.cfg.Location)
	tags := ""
	if len(post.Tags) > 0 {
		tags = " &bull; Tags: " + html.EscapeString(JoinTags(post.Tags))
	}

	htmlValues := map[string]string{
		"SITE_NAME":       html.EscapeString(n.cfg.SiteName),
		"SITE_URL":        html.EscapeString(n.cfg.SiteURL),
		"TITLE":           html.EscapeString(post.Title),
		"DATE":            html.EscapeString(date),
		"TAGS":            tags,
		"EXCERPT":         html.EscapeString(excerpt),
		"POST_URL":        html.EscapeString(postURL),
		"UNSUBSCRIBE_URL": html.EscapeString(unsubscribe),
	}
	textValues := map[string]string{
		"SITE_NAME":       n.cfg.SiteName,
		"SITE_URL":        n.cfg.SiteURL,
		"TITLE":           post.Title,
		"DATE":            date,
		"TAGS":            JoinTags(post.Tags),
		"EXCERPT":         excerpt,
		"POST_URL":        postURL,
		"UNSUBSCRIBE_URL": unsubscribe,
	}
	htmlBody, err := fillTemplate(string(htmlTmpl), htmlValues)
	if err != nil {
		return "", "", err
	}
	textBody, err := fillTemplate(string(textTmpl), textValues)
	if err != nil {
		return "", "", err
	}
	return htmlBody, textBody, nil
}

func fillTemplate(tmpl string, values map[string]string) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(tmpl, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		if v, ok := values[strings.TrimSpace(tag)]; ok {
			return io.WriteString(w, v)
		}
		return io.WriteString(w, "{{"+tag+"}}")
	})
}

// Excerpt strips tags from an HTML fragment and shortens the text to at most
// max bytes, cutting at the last space and appending "...".
func Excerpt(fragment string, max int) string {
	var b strings.Builder
	inTag := false
	for _, r := range fragment {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	text := strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.ToValidUTF8(cut, "") + "..."
}
