package weblog

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/weblog/logger"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Sitemap maintains the persisted sitemap document: the site root, the
// about page, and one entry per visible post. It is rebuilt wholesale when
// the file is missing and patched in place on publish and unpublish.
type Sitemap struct {
	mu      sync.Mutex // serialises read-modify-write of the file
	path    string
	baseURL string
	posts   PostRepository
	now     func() time.Time
}

// NewSitemap returns a maintainer writing to path.
func NewSitemap(path, baseURL string, posts PostRepository) *Sitemap {
	return &Sitemap{path: path, baseURL: baseURL, posts: posts, now: time.Now}
}

// Path returns the location of the sitemap file.
func (s *Sitemap) Path() string {
	return s.path
}

func lastMod(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// locTag is the exact <loc> element a post entry is written with, used for
// containment checks on the raw document.
func locTag(u string) []byte {
	var buf bytes.Buffer
	buf.WriteString("<loc>")
	_ = xml.EscapeText(&buf, []byte(u))
	buf.WriteString("</loc>")
	return buf.Bytes()
}

// Ensure rebuilds the document if it does not exist.
func (s *Sitemap) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx)
}

func (s *Sitemap) ensureLocked(ctx context.Context) error {
	_, err := os.Stat(s.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &SitemapIOError{Op: "stat", Err: err}
	}
	return s.rebuildLocked(ctx)
}

// Rebuild regenerates the whole document from the repository.
func (s *Sitemap) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Sitemap) rebuildLocked(ctx context.Context) error {
	posts, err := s.posts.ListPosts(ctx, PostQuery{Filter: Anonymous.ListFilter()})
	if err != nil {
		return err
	}
	now := lastMod(s.now())
	set := sitemapURLSet{
		XMLNS: sitemapNS,
		URLs: []sitemapURL{
			{Loc: BuildURL(s.baseURL), LastMod: now},
			{Loc: BuildURL(s.baseURL, "me"), LastMod: now},
		},
	}
	for _, p := range posts {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:     PostURL(s.baseURL, p.Slug),
			LastMod: lastMod(p.Date),
		})
	}
	if err := s.writeSet(set); err != nil {
		return err
	}
	logger.Info("sitemap rebuilt", "path", s.path, "posts", len(posts))
	return nil
}

func (s *Sitemap) writeSet(set sitemapURLSet) error {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return &SitemapIOError{Op: "encode", Err: err}
	}
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

// write replaces the file atomically so readers never see a torn document.
func (s *Sitemap) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &SitemapIOError{Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".sitemap-*.xml")
	if err != nil {
		return &SitemapIOError{Op: "write", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &SitemapIOError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &SitemapIOError{Op: "write", Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &SitemapIOError{Op: "chmod", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &SitemapIOError{Op: "rename", Err: err}
	}
	return nil
}

// read returns the current document, or nil when the file is missing.
func (s *Sitemap) read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &SitemapIOError{Op: "read", Err: err}
	}
	return data, nil
}

// OnPostPublished adds p to the document unless its URL is already
// listed. A missing or unreadable document is rebuilt instead.
func (s *Sitemap) OnPostPublished(ctx context.Context, p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	if data == nil {
		return s.rebuildLocked(ctx)
	}
	loc := locTag(PostURL(s.baseURL, p.Slug))
	if bytes.Contains(data, loc) {
		return nil
	}
	end := bytes.LastIndex(data, []byte("</urlset>"))
	if end < 0 {
		logger.Warn("sitemap malformed, rebuilding", "path", s.path)
		return s.rebuildLocked(ctx)
	}

	var entry bytes.Buffer
	entry.WriteString("  <url>\n    ")
	entry.Write(loc)
	entry.WriteString("\n    <lastmod>")
	entry.WriteString(lastMod(p.Date))
	entry.WriteString("</lastmod>\n  </url>\n")

	updated := make([]byte, 0, len(data)+entry.Len())
	updated = append(updated, data[:end]...)
	updated = append(updated, entry.Bytes()...)
	updated = append(updated, data[end:]...)
	if err := s.write(updated); err != nil {
		return err
	}
	logger.Info("sitemap entry added", "slug", p.Slug)
	return nil
}

// OnPostUpdated refreshes the lastmod of p's entry after its date
// changed, adding the entry when it is missing.
func (s *Sitemap) OnPostUpdated(ctx context.Context, p Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	if data == nil {
		return s.rebuildLocked(ctx)
	}
	var set sitemapURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		logger.Warn("sitemap malformed, rebuilding", "path", s.path, "error", err)
		return s.rebuildLocked(ctx)
	}
	target := PostURL(s.baseURL, p.Slug)
	mod := lastMod(p.Date)
	found := false
	for i := range set.URLs {
		if set.URLs[i].Loc != target {
			continue
		}
		if set.URLs[i].LastMod == mod {
			return nil
		}
		set.URLs[i].LastMod = mod
		found = true
	}
	if !found {
		set.URLs = append(set.URLs, sitemapURL{Loc: target, LastMod: mod})
	}
	set.XMLName = xml.Name{}
	set.XMLNS = sitemapNS
	if err := s.writeSet(set); err != nil {
		return err
	}
	logger.Info("sitemap entry updated", "slug", p.Slug)
	return nil
}

// OnPostHidden removes the entry for slug, used when a post is made
// invisible, deleted, or renamed.
func (s *Sitemap) OnPostHidden(ctx context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	if data == nil {
		return s.rebuildLocked(ctx)
	}
	var set sitemapURLSet
	if err := xml.Unmarshal(data, &set); err != nil {
		logger.Warn("sitemap malformed, rebuilding", "path", s.path, "error", err)
		return s.rebuildLocked(ctx)
	}
	target := PostURL(s.baseURL, slug)
	kept := set.URLs[:0]
	for _, u := range set.URLs {
		if u.Loc != target {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(set.URLs) {
		return nil
	}
	set.URLs = kept
	// The decoded name carries the namespace; clear it so the encoder does
	// not emit xmlns twice.
	set.XMLName = xml.Name{}
	set.XMLNS = sitemapNS
	if err := s.writeSet(set); err != nil {
		return err
	}
	logger.Info("sitemap entry removed", "slug", slug)
	return nil
}

// logSitemapErr reports a maintenance failure without failing the write
// that triggered it.
func logSitemapErr(op string, err error) {
	if err != nil {
		logger.Warn("sitemap maintenance failed", "op", op, "error", err)
	}
}

func (a *App) handleSitemap(c echo.Context) error {
	logSitemapErr("ensure", a.Sitemap.Ensure(c.Request().Context()))
	data, err := os.ReadFile(a.Sitemap.Path())
	if err != nil {
		return &SitemapIOError{Op: "serve", Err: err}
	}
	h := c.Response().Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	return c.Blob(http.StatusOK, "application/xml; charset=utf-8", data)
}
