// Package weblog is a single-author blogging engine built with Go, Echo,
// and templ. It provides post CRUD behind a single admin account, a
// visibility gate applied to every read path, RSS, and an incrementally
// maintained sitemap.
//
// Users provide their own templ templates via the ViewFuncs struct,
// and weblog handles the handler logic, middleware, and persistence.
package weblog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/eringen/weblog/logger"
	"github.com/eringen/weblog/storage"
)

const shutdownTimeout = 10 * time.Second

// ViewFuncs holds user-provided templ components that the framework calls
// when rendering pages. This is the inversion-of-control mechanism that
// lets users own and customize all templates.
type ViewFuncs struct {
	Home        func(page PostPage, v Viewer, site SiteConfig) templ.Component
	Post        func(post Post, v Viewer, site SiteConfig) templ.Component
	PostForm    func(post *Post, csrfToken string, site SiteConfig) templ.Component // nil post renders the add form
	Login       func(message, csrfToken string, site SiteConfig) templ.Component
	Signup      func(message, csrfToken string, site SiteConfig) templ.Component
	About       func(v Viewer, site SiteConfig) templ.Component
	NotFound    func(site SiteConfig) templ.Component
	ServerError func(site SiteConfig) templ.Component
}

// App is the central weblog application. It wires together the
// repositories, gate, sitemap, media storage, handlers, middleware, and
// user-provided templates.
type App struct {
	Config  SiteConfig
	Echo    *echo.Echo
	Posts   PostRepository
	Users   UserRepository
	Gate    *Gate
	Sitemap *Sitemap
	Media   storage.Storage
	Views   ViewFuncs

	loginLimiter *LoginLimiter
	customRoutes []func(*App)
	closers      []io.Closer
	ready        bool
}

// New creates a new weblog App with the given configuration and view functions.
func New(cfg SiteConfig, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &App{
		Config: cfg,
		Echo:   e,
		Views:  views,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup opens the stores, ensures the sitemap exists, and registers
// middleware and routes. Run calls it when it has not been called yet.
func (a *App) Setup(ctx context.Context) error {
	if a.ready {
		return nil
	}
	if err := a.Config.validate(); err != nil {
		return err
	}
	logger.SetLevel(a.Config.LogLevel)

	if a.Posts == nil || a.Users == nil {
		store, err := NewStore(a.Config.DatabasePath)
		if err != nil {
			return fmt.Errorf("weblog: init store: %w", err)
		}
		a.closers = append(a.closers, store)
		if a.Posts == nil {
			a.Posts = store
		}
		if a.Users == nil {
			a.Users = store
		}
	}

	if a.Media == nil {
		media, err := storage.New(ctx, a.Config.Storage)
		if err != nil {
			return fmt.Errorf("weblog: init storage: %w", err)
		}
		a.Media = media
	}

	a.Gate = NewGate(a.Posts)
	a.Sitemap = NewSitemap(a.Config.SitemapPath, a.Config.URL, a.Posts)
	logSitemapErr("ensure", a.Sitemap.Ensure(ctx))

	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.ready = true
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.GET("/robots.txt", a.handleRobots)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)

	e.GET("/", a.handleHome)
	e.GET("/me", a.handleAbout)

	// Fixed /post/* routes are registered before /post/:slug; echo's static
	// segments win over the param route regardless, and UniqueSlug never
	// hands out the reserved names.
	e.GET("/post/add", a.handleAddPage, requireAdminPage)
	e.POST("/post/add", a.handleAddPost, requireAdminAPI)
	e.GET("/post/edit/:id", a.handleEditPage, requireAdminPage)
	e.PUT("/post/edit/:id", a.handleEditPost, requireAdminAPI)
	e.GET("/post/delete/:id", a.handleDeletePost, requireAdminAPI)
	e.GET("/post/toggle-visibility/:id", a.handleToggleVisibility, requireAdminAPI)
	e.GET("/post/:slug", a.handlePost)

	e.GET("/auth/login", a.handleLoginPage)
	e.POST("/auth/login", a.handleLogin)
	e.GET("/auth/signup", a.handleSignupPage)
	e.POST("/auth/signup", a.handleSignup)
	e.GET("/auth/logout", handleLogout)

	e.GET("/media", a.handleMediaList, requireAdminAPI)
	e.POST("/media", a.handleMediaUpload, requireAdminAPI)
	e.GET("/media/:key", a.handleMediaGet)
	e.DELETE("/media/:key", a.handleMediaDelete, requireAdminAPI)
}

// Run sets the app up and serves until ctx is cancelled or the server
// fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Setup(ctx); err != nil {
		return err
	}
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", a.Config.Addr, "url", a.Config.URL)
		errCh <- a.Echo.Start(a.Config.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			a.shutdown()
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("weblog: shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// Close releases the stores and background workers. Call this when the
// app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
