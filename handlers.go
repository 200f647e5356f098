package pubsched

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/pubsched/markdown"
)

// publicMessages are the client-facing texts of the sentinel errors.
var publicMessages = map[error]string{
	ErrInvalidSchedule:   "Scheduled time must be in the future",
	ErrDuplicateSlug:     "A post with this URL slug already exists",
	ErrNotFound:          "Scheduled post not found",
	ErrPublishInProgress: "A publish run is already in progress",
	ErrDeliveryError:     "Newsletter delivery failed",
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPublishInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrDeliveryError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error, code int) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return http.StatusText(he.Code)
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	for sentinel, msg := range publicMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	if code >= 500 {
		return "Internal server error"
	}
	return http.StatusText(code)
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	if code >= 500 {
		a.Log.Error().Err(err).Str("method", c.Request().Method).Str("uri", c.Request().RequestURI).Msg("server error")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, echo.Map{"error": errorMessage(err, code)})
}

func (a *App) handleScheduleCreate(c echo.Context) error {
	var req ScheduleRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	id, err := a.Service.ScheduleCreate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"message":      "Post scheduled successfully",
		"scheduledFor": req.ScheduledFor.UTC(),
		"postId":       id,
	})
}

func (a *App) handleScheduleList(c echo.Context) error {
	posts, err := a.Service.ScheduleList(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"scheduledPosts": posts,
		"count":          len(posts),
	})
}

func (a *App) handleScheduleDelete(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		var body struct {
			PostID string `json:"postId"`
		}
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Post ID is required")
		}
		id = strings.TrimSpace(body.PostID)
	}
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Post ID is required")
	}
	post, err := a.Service.ScheduleDelete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"message":     "Scheduled post deleted successfully",
		"deletedPost": post,
	})
}

// handleSchedulePreview renders the page a queued post would become, or only
// its body with ?fragment=1.
func (a *App) handleSchedulePreview(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("fragment") != "" {
		post, err := a.Service.ScheduleGet(ctx, c.Param("id"))
		if err != nil {
			return err
		}
		return renderComponent(c, http.StatusOK, markdown.Markdown(post.Content))
	}
	page, err := a.Service.Preview(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return renderComponent(c, http.StatusOK, PageComponent(page))
}

// renderComponent writes a templ component as an HTML response.
func renderComponent(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}

func (a *App) handlePublish(c echo.Context) error {
	res, err := a.PublishDue(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":   "Scheduled publish run complete",
		"published": res.Published,
		"remaining": res.Remaining,
	})
}

func (a *App) handlePosts(c echo.Context) error {
	entries, err := a.Cache.List(c.Request().Context(), c.QueryParam("category"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"posts": entries,
		"count": len(entries),
	})
}

func (a *App) handlePost(c echo.Context) error {
	entry, err := a.Cache.Get(c.Request().Context(), c.Param("slug"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (a *App) handlePublishNow(c echo.Context) error {
	var req ScheduleRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	entry, err := a.PublishNow(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"message":  "Post published successfully",
		"postUrl":  entry.URL,
		"fileName": entry.URLSlug + ".html",
		"post":     entry,
	})
}

func (a *App) handleWelcome(c echo.Context) error {
	var sub Subscriber
	if err := json.NewDecoder(c.Request().Body).Decode(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	sub.Email = strings.TrimSpace(sub.Email)
	if sub.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}
	if err := a.newsletter.Welcome(c.Request().Context(), sub); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Welcome email sent successfully",
	})
}

func (a *App) handleFeed(c echo.Context) error {
	entries, err := a.Cache.List(c.Request().Context(), "")
	if err != nil {
		return err
	}
	return a.renderRSS(c, entries)
}
