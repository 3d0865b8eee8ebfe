package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eringen/weblog"
	"github.com/eringen/weblog/logger"
	"github.com/eringen/weblog/pgstore"
	"github.com/eringen/weblog/views"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		exitOn(serve())
	case "sitemap":
		exitOn(rebuildSitemap())
	case "version":
		fmt.Printf("weblog %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func exitOn(err error) {
	if err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// newApp builds the App from the environment, selecting the Postgres
// repositories when DATABASE_URL is set.
func newApp(ctx context.Context) (*weblog.App, func(), error) {
	cfg, err := weblog.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(cfg.LogLevel)

	var opts []weblog.Option
	cleanup := func() {}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		opts = append(opts, weblog.WithRepositories(pg, pg))
		cleanup = func() { pg.Close() }
		logger.Info("using postgres repositories")
	}
	return weblog.New(cfg, views.New(), opts...), cleanup, nil
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return app.Run(ctx)
}

func rebuildSitemap() error {
	ctx := context.Background()
	app, cleanup, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := app.Setup(ctx); err != nil {
		return err
	}
	defer app.Close()
	if err := app.Sitemap.Rebuild(ctx); err != nil {
		return err
	}
	fmt.Printf("sitemap written to %s\n", app.Sitemap.Path())
	return nil
}

func printUsage() {
	fmt.Println(`weblog - a single-author blog built with Go, Echo, and templ

Usage:
  weblog [command]

Commands:
  serve      Start the HTTP server (default)
  sitemap    Rebuild the sitemap from the database
  version    Print the weblog version
  help       Show this help message

Configuration is read from the environment and an optional .env file.
SESSION_SECRET is required.`)
}
