package weblog

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eringen/weblog/logger"
)

func (a *App) handleHome(c echo.Context) error {
	n := 1
	if raw := c.QueryParam("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return &ValidationError{Field: "page", Message: "Page must be a positive integer."}
		}
		n = v
	}
	viewer := ViewerFrom(c)
	page, err := a.Gate.Page(c.Request().Context(), viewer, n, a.Config.PostsPerPage)
	if err != nil {
		return err
	}
	if wantsJSON(c) {
		return c.JSON(http.StatusOK, page)
	}
	return Render(c, a.Views.Home(page, viewer, a.Config))
}

func (a *App) handlePost(c echo.Context) error {
	viewer := ViewerFrom(c)
	post, err := a.Gate.Post(c.Request().Context(), viewer, c.Param("slug"))
	if err != nil {
		return err
	}
	if wantsJSON(c) {
		return c.JSON(http.StatusOK, post)
	}
	return Render(c, a.Views.Post(post, viewer, a.Config))
}

func (a *App) handleAbout(c echo.Context) error {
	return Render(c, a.Views.About(ViewerFrom(c), a.Config))
}

func (a *App) handleRobots(c echo.Context) error {
	body := fmt.Sprintf("User-agent: *\nAllow: /\nDisallow: /auth/\nDisallow: /post/add\nDisallow: /post/edit/\n\nSitemap: %s\n",
		BuildURL(a.Config.URL, "sitemap.xml"))
	return c.String(http.StatusOK, body)
}

// httpErrorHandler maps the error taxonomy onto responses. Internal
// details are logged and never written to the client.
func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		ve  *ValidationError
		se  *StoreError
		sie *SitemapIOError
		he  *echo.HTTPError
	)
	switch {
	case errors.As(err, &ve):
		a.writeError(c, http.StatusBadRequest, ve.Message)
	case errors.Is(err, ErrNotFound):
		a.writeError(c, http.StatusNotFound, "Not found.")
	case errors.Is(err, ErrUnauthorized):
		if err := c.JSON(http.StatusUnauthorized, apiResponse{Error: "Unauthorized."}); err != nil {
			logger.Error("writing error response", "error", err)
		}
	case errors.Is(err, ErrSignupClosed):
		a.writeError(c, http.StatusForbidden, msgSignupClosed)
	case errors.As(err, &se):
		logger.Error("store error", "op", se.Op, "error", se.Err, "uri", c.Request().RequestURI)
		a.writeError(c, http.StatusInternalServerError, "Internal server error.")
	case errors.As(err, &sie):
		logger.Warn("sitemap error", "op", sie.Op, "error", sie.Err)
		a.writeError(c, http.StatusInternalServerError, "Internal server error.")
	case errors.As(err, &he):
		if he.Code >= http.StatusInternalServerError {
			logger.Error("server error", "error", err, "uri", c.Request().RequestURI)
			a.writeError(c, he.Code, "Internal server error.")
			return
		}
		a.writeError(c, he.Code, fmt.Sprint(he.Message))
	default:
		logger.Error("server error", "error", err, "uri", c.Request().RequestURI)
		a.writeError(c, http.StatusInternalServerError, "Internal server error.")
	}
}

func (a *App) writeError(c echo.Context, code int, msg string) {
	var err error
	switch {
	case c.Request().Method == http.MethodHead:
		err = c.NoContent(code)
	case wantsJSON(c):
		err = c.JSON(code, apiResponse{Error: msg})
	case code == http.StatusNotFound:
		err = RenderStatus(c, code, a.Views.NotFound(a.Config))
	case code >= http.StatusInternalServerError:
		err = RenderStatus(c, code, a.Views.ServerError(a.Config))
	default:
		err = c.String(code, msg)
	}
	if err != nil {
		logger.Error("writing error response", "error", err)
	}
}
