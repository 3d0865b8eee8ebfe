package weblog

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/weblog/content"
	"github.com/eringen/weblog/logger"
)

// tagList accepts tags as a JSON array, a JSON string, or a form value,
// the string forms being comma separated.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = NormalizeTags(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.UnmarshalParam(s)
}

// UnmarshalParam implements echo.BindUnmarshaler for form values.
func (t *tagList) UnmarshalParam(s string) error {
	*t = NormalizeTags(strings.Split(s, ","))
	return nil
}

// formBool is a bool that also accepts the "on" value of an HTML checkbox.
type formBool bool

func (b *formBool) UnmarshalParam(s string) error {
	if s == "on" {
		*b = true
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = formBool(v)
	return nil
}

// postRequest is the body of the add and edit endpoints.
type postRequest struct {
	Title   string   `json:"title" form:"title"`
	Date    string   `json:"date" form:"date"`
	Tags    *tagList `json:"tags" form:"tags"`
	Content string   `json:"content" form:"content"`
	HasCode formBool `json:"hasCode" form:"hasCode"`
}

var postDateLayouts = []string{time.RFC3339, "2006-01-02"}

func (r *postRequest) validate() (time.Time, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return time.Time{}, &ValidationError{Field: "title", Message: "Title is required."}
	}
	if strings.TrimSpace(r.Content) == "" {
		return time.Time{}, &ValidationError{Field: "content", Message: "Content is required."}
	}
	raw := strings.TrimSpace(r.Date)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range postDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ValidationError{Field: "date", Message: "Invalid date format. Use YYYY-MM-DD."}
}

func (r *postRequest) hasCode() bool {
	return bool(r.HasCode) || content.HasCode(r.Content)
}

func bindPost(c echo.Context) (postRequest, time.Time, error) {
	var req postRequest
	if err := c.Bind(&req); err != nil {
		return req, time.Time{}, &ValidationError{Message: "Malformed request body."}
	}
	date, err := req.validate()
	return req, date, err
}

func (a *App) handleAddPage(c echo.Context) error {
	return Render(c, a.Views.PostForm(nil, CsrfToken(c), a.Config))
}

func (a *App) handleEditPage(c echo.Context) error {
	post, err := a.Gate.Editable(c.Request().Context(), ViewerFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return Render(c, a.Views.PostForm(&post, CsrfToken(c), a.Config))
}

func (a *App) handleAddPost(c echo.Context) error {
	req, date, err := bindPost(c)
	if err != nil {
		return err
	}
	in := PostInput{
		Title:   req.Title,
		Date:    date,
		Content: req.Content,
		HasCode: req.hasCode(),
	}
	if req.Tags != nil {
		in.Tags = *req.Tags
	}
	ctx := c.Request().Context()
	post, err := a.Posts.CreatePost(ctx, in)
	if err != nil {
		return err
	}
	logger.Info("post created", "id", post.ID, "slug", post.Slug)
	a.syncSitemap(ctx, nil, &post)
	return postJSON(c, http.StatusOK, post)
}

func (a *App) handleEditPost(c echo.Context) error {
	ctx := c.Request().Context()
	before, err := a.Gate.Editable(ctx, ViewerFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	req, date, err := bindPost(c)
	if err != nil {
		return err
	}
	hasCode := req.hasCode()
	upd := PostUpdate{
		Title:   &req.Title,
		Content: &req.Content,
		HasCode: &hasCode,
	}
	if !date.IsZero() {
		upd.Date = &date
	}
	if req.Tags != nil {
		tags := []string(*req.Tags)
		upd.Tags = &tags
	}
	after, err := a.Posts.UpdatePost(ctx, before.ID, upd)
	if err != nil {
		return err
	}
	logger.Info("post updated", "id", after.ID, "slug", after.Slug)
	a.syncSitemap(ctx, &before, &after)
	return postJSON(c, http.StatusOK, after)
}

func (a *App) handleDeletePost(c echo.Context) error {
	ctx := c.Request().Context()
	before, err := a.Gate.Editable(ctx, ViewerFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	if err := a.Posts.DeletePost(ctx, before.ID); err != nil {
		return err
	}
	logger.Info("post deleted", "id", before.ID, "slug", before.Slug)
	a.syncSitemap(ctx, &before, nil)
	return c.Redirect(http.StatusSeeOther, "/")
}

func (a *App) handleToggleVisibility(c echo.Context) error {
	ctx := c.Request().Context()
	before, err := a.Gate.Editable(ctx, ViewerFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	after, err := a.Posts.ToggleVisibility(ctx, before.ID)
	if err != nil {
		return err
	}
	logger.Info("post visibility changed", "id", after.ID, "visible", after.IsVisible)
	a.syncSitemap(ctx, &before, &after)
	return c.Redirect(http.StatusSeeOther, "/")
}

// syncSitemap brings the sitemap in line with a post transition from
// before to after, either of which may be nil. Failures are logged only;
// the triggering write has already been committed.
func (a *App) syncSitemap(ctx context.Context, before, after *Post) {
	if before != nil && before.IsVisible {
		if after == nil || !after.IsVisible || after.Slug != before.Slug {
			logSitemapErr("remove", a.Sitemap.OnPostHidden(ctx, before.Slug))
		}
	}
	if after == nil || !after.IsVisible {
		return
	}
	if before != nil && before.IsVisible && before.Slug == after.Slug && !before.Date.Equal(after.Date) {
		logSitemapErr("update", a.Sitemap.OnPostUpdated(ctx, *after))
		return
	}
	logSitemapErr("add", a.Sitemap.OnPostPublished(ctx, *after))
}
