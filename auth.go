package weblog

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/eringen/weblog/logger"
)

const sessionName = "admin_session"

const (
	msgInvalidCredentials = "Invalid username or password."
	msgSignupClosed       = "This is a single-account website. Please login with your account."
	msgTooManyAttempts    = "Too many login attempts. Try again later."
)

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("weblog-dummy-password"), bcrypt.MinCost)

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(a.Config.SessionMaxAge.Seconds()),
		SameSite: http.SameSiteStrictMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// sessionViewer derives the Viewer from the admin session cookie.
func sessionViewer(c echo.Context) Viewer {
	sess, err := adminSession(c)
	if err != nil {
		return Anonymous
	}
	auth, ok := sess.Values["authorized"].(bool)
	if !ok || !auth {
		return Anonymous
	}
	u := &User{}
	u.ID, _ = sess.Values["user_id"].(string)
	u.Username, _ = sess.Values["username"].(string)
	return Viewer{Authorized: true, User: u}
}

// adminSession returns the admin session for the request. A cookie that
// no longer decodes (tampered, or signed with a rotated secret) yields a
// fresh session, so saving it replaces the stale cookie.
func adminSession(c echo.Context) (*sessions.Session, error) {
	sess, err := session.Get(sessionName, c)
	if sess == nil {
		return nil, err
	}
	if err != nil {
		logger.Debug("discarding undecodable session cookie", "error", err)
	}
	return sess, nil
}

func setAdminSession(c echo.Context, u User) error {
	sess, err := adminSession(c)
	if err != nil {
		return err
	}
	sess.Values["authorized"] = true
	sess.Values["user_id"] = u.ID
	sess.Values["username"] = u.Username
	return sess.Save(c.Request(), c.Response())
}

func clearAdminSession(c echo.Context) error {
	sess, err := adminSession(c)
	if err != nil {
		return err
	}
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (cr *credentials) validate() error {
	cr.Username = strings.TrimSpace(cr.Username)
	if cr.Username == "" {
		return &ValidationError{Field: "username", Message: "Username is required."}
	}
	if cr.Password == "" {
		return &ValidationError{Field: "password", Message: "Password is required."}
	}
	return nil
}

func (a *App) handleLoginPage(c echo.Context) error {
	if ViewerFrom(c).Authorized {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return Render(c, a.Views.Login("", CsrfToken(c), a.Config))
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		logger.Warn("login rate limited", "ip", ip)
		return a.loginFailure(c, http.StatusTooManyRequests, msgTooManyAttempts)
	}

	var cr credentials
	if err := c.Bind(&cr); err != nil {
		return a.loginFailure(c, http.StatusBadRequest, "Malformed request.")
	}
	if err := cr.validate(); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return a.loginFailure(c, http.StatusBadRequest, ve.Message)
	}

	u, err := a.Users.FindUserByUsername(c.Request().Context(), cr.Username)
	switch {
	case errors.Is(err, ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(cr.Password))
		return a.rejectLogin(c, ip)
	case err != nil:
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(cr.Password)) != nil {
		return a.rejectLogin(c, ip)
	}

	if err := setAdminSession(c, u); err != nil {
		return err
	}
	logger.Info("admin logged in", "user", u.Username, "ip", ip)
	return c.Redirect(http.StatusSeeOther, "/")
}

func (a *App) rejectLogin(c echo.Context, ip string) error {
	a.loginLimiter.Record(ip)
	if err := clearAdminSession(c); err != nil {
		return err
	}
	logger.Info("login rejected", "ip", ip)
	return a.loginFailure(c, http.StatusUnauthorized, msgInvalidCredentials)
}

func (a *App) loginFailure(c echo.Context, code int, msg string) error {
	if wantsJSON(c) {
		return c.JSON(code, apiResponse{Error: msg})
	}
	return RenderStatus(c, code, a.Views.Login(msg, CsrfToken(c), a.Config))
}

func handleLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (a *App) handleSignupPage(c echo.Context) error {
	n, err := a.Users.CountUsers(c.Request().Context())
	if err != nil {
		return err
	}
	if n > 0 {
		return Render(c, a.Views.Login(msgSignupClosed, CsrfToken(c), a.Config))
	}
	return Render(c, a.Views.Signup("", CsrfToken(c), a.Config))
}

func (a *App) handleSignup(c echo.Context) error {
	var cr credentials
	if err := c.Bind(&cr); err != nil {
		return a.signupFailure(c, http.StatusBadRequest, "Malformed request.")
	}
	if err := cr.validate(); err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		return a.signupFailure(c, http.StatusBadRequest, ve.Message)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cr.Password), a.Config.BcryptCost)
	if err != nil {
		return err
	}
	u, err := a.Users.CreateFirstUser(c.Request().Context(), cr.Username, string(hash))
	if errors.Is(err, ErrSignupClosed) {
		if wantsJSON(c) {
			return c.JSON(http.StatusForbidden, apiResponse{Error: msgSignupClosed})
		}
		return RenderStatus(c, http.StatusForbidden, a.Views.Login(msgSignupClosed, CsrfToken(c), a.Config))
	}
	if err != nil {
		return err
	}
	logger.Info("admin account created", "user", u.Username)
	return c.Redirect(http.StatusSeeOther, "/auth/login")
}

func (a *App) signupFailure(c echo.Context, code int, msg string) error {
	if wantsJSON(c) {
		return c.JSON(code, apiResponse{Error: msg})
	}
	return RenderStatus(c, code, a.Views.Signup(msg, CsrfToken(c), a.Config))
}
