package weblog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eringen/weblog/storage"
)

// SiteConfig holds all configuration for a weblog site.
type SiteConfig struct {
	Name        string // Site name (default "Blog")
	URL         string // Canonical URL (default "http://localhost:3000")
	Description string // Site description for RSS and meta tags
	Author      string

	Addr         string // Listen address (default ":3000")
	DatabasePath string // SQLite path (default "data/blog.db")
	DatabaseURL  string // Postgres URL; selects the Postgres repository when set

	SessionSecret string        // Required: session encryption secret
	SessionMaxAge time.Duration // Session cookie lifetime (default 12h)
	CookieSecure  bool          // Set true for HTTPS
	BcryptCost    int           // Password hashing cost (default 12)

	PostsPerPage int    // Listing page size (default 8)
	SitemapPath  string // Persisted sitemap (default "data/sitemap.xml")

	Storage storage.Config

	LogLevel string
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Blog"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	c.URL = strings.TrimSuffix(c.URL, "/")
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/blog.db"
	}
	if c.SessionMaxAge == 0 {
		c.SessionMaxAge = 12 * time.Hour
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.PostsPerPage <= 0 {
		c.PostsPerPage = 8
	}
	if c.SitemapPath == "" {
		c.SitemapPath = "data/sitemap.xml"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/media"
	}
}

func (c SiteConfig) validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("weblog: SessionSecret is required")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("weblog: BcryptCost %d out of range", c.BcryptCost)
	}
	return nil
}

// LoadConfig reads configuration from the environment, after loading a
// .env file from the working directory when one exists.
func LoadConfig() (SiteConfig, error) {
	_ = godotenv.Load()

	cfg := SiteConfig{
		Name:          EnvOr("SITE_NAME", ""),
		URL:           EnvOr("SITE_URL", ""),
		Description:   EnvOr("SITE_DESCRIPTION", ""),
		Author:        EnvOr("SITE_AUTHOR", ""),
		Addr:          EnvOr("ADDR", ""),
		DatabasePath:  EnvOr("DATABASE_PATH", ""),
		DatabaseURL:   EnvOr("DATABASE_URL", ""),
		SessionSecret: EnvOr("SESSION_SECRET", ""),
		CookieSecure:  strings.EqualFold(EnvOr("COOKIE_SECURE", ""), "true"),
		SitemapPath:   EnvOr("SITEMAP_PATH", ""),
		LogLevel:      EnvOr("LOG_LEVEL", "info"),
		Storage: storage.Config{
			Backend: EnvOr("STORAGE_BACKEND", "local"),
			Dir:     EnvOr("STORAGE_DIR", ""),
			Bucket:  EnvOr("S3_BUCKET", ""),
			Region:  EnvOr("AWS_REGION", ""),
			Prefix:  EnvOr("S3_PREFIX", ""),
		},
	}
	if port := EnvOr("PORT", ""); port != "" && cfg.Addr == "" {
		cfg.Addr = ":" + port
	}
	if v := EnvOr("SESSION_MAX_AGE", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("SESSION_MAX_AGE: %w", err)
		}
		cfg.SessionMaxAge = d
	}
	if v := EnvOr("BCRYPT_COST", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}
	if v := EnvOr("POSTS_PER_PAGE", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("POSTS_PER_PAGE: %w", err)
		}
		cfg.PostsPerPage = n
	}
	cfg.setDefaults()
	return cfg, cfg.validate()
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithRepositories replaces the default SQLite store.
func WithRepositories(posts PostRepository, users UserRepository) Option {
	return func(a *App) {
		a.Posts = posts
		a.Users = users
	}
}

// WithStorage replaces the media storage selected by SiteConfig.Storage.
func WithStorage(s storage.Storage) Option {
	return func(a *App) {
		a.Media = s
	}
}

// EnvOr returns the trimmed value of the environment variable key, or
// fallback if empty.
func EnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
