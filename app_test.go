package weblog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"golang.org/x/crypto/bcrypt"

	"github.com/eringen/weblog/storage"
)

func text(s string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

func stubViews() ViewFuncs {
	return ViewFuncs{
		Home: func(page PostPage, v Viewer, site SiteConfig) templ.Component {
			var b strings.Builder
			fmt.Fprintf(&b, "home page=%d/%d", page.CurrentPage, page.TotalPages)
			for _, p := range page.Posts {
				b.WriteString(" " + p.Slug)
			}
			return text(b.String())
		},
		Post: func(p Post, v Viewer, site SiteConfig) templ.Component { return text("post:" + p.Title) },
		PostForm: func(p *Post, csrf string, site SiteConfig) templ.Component {
			if p == nil {
				return text("form:new")
			}
			return text("form:" + p.ID)
		},
		Login:       func(msg, csrf string, site SiteConfig) templ.Component { return text("login:" + msg) },
		Signup:      func(msg, csrf string, site SiteConfig) templ.Component { return text("signup:" + msg) },
		About:       func(v Viewer, site SiteConfig) templ.Component { return text("about") },
		NotFound:    func(site SiteConfig) templ.Component { return text("not found") },
		ServerError: func(site SiteConfig) templ.Component { return text("server error") },
	}
}

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	cfg := SiteConfig{
		Name:          "Test Blog",
		URL:           "https://blog.example.com",
		DatabasePath:  filepath.Join(dir, "blog.db"),
		SitemapPath:   filepath.Join(dir, "sitemap.xml"),
		SessionSecret: "test-secret-test-secret-test-sec",
		BcryptCost:    bcrypt.MinCost,
		PostsPerPage:  10,
		LogLevel:      "error",
		Storage:       storage.Config{Backend: "local", Dir: filepath.Join(dir, "media")},
	}
	app := New(cfg, stubViews())
	if err := app.Setup(context.Background()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	srv := httptest.NewServer(app.Echo)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return app, srv
}

// client is a browser-like session: it keeps cookies, does not follow
// redirects, and echoes the CSRF cookie back in a header.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	c := &client{
		t:    t,
		base: srv.URL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	c.get("/auth/login") // obtain the CSRF cookie
	return c
}

func (c *client) csrf() string {
	u, _ := url.Parse(c.base)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == "_csrf" {
			return ck.Value
		}
	}
	return ""
}

type response struct {
	code   int
	header http.Header
	body   string
}

func (r response) json(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.body), v); err != nil {
		t.Fatalf("decode %q: %v", r.body, err)
	}
}

func (c *client) do(method, path, contentType string, body io.Reader, header map[string]string) response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.csrf(); tok != "" {
		req.Header.Set("X-CSRF-Token", tok)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return response{code: res.StatusCode, header: res.Header, body: string(data)}
}

func (c *client) get(path string) response {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", nil, nil)
}

func (c *client) getJSON(path string) response {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", nil, map[string]string{"Accept": "application/json"})
}

func (c *client) postForm(path string, vals url.Values) response {
	c.t.Helper()
	return c.do(http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(vals.Encode()), nil)
}

func (c *client) sendJSON(method, path string, v any) response {
	c.t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		c.t.Fatal(err)
	}
	return c.do(method, path, "application/json", bytes.NewReader(b), map[string]string{"Accept": "application/json"})
}

func expectStatus(t *testing.T, r response, code int) {
	t.Helper()
	if r.code != code {
		t.Fatalf("status = %d, want %d; body: %s", r.code, code, r.body)
	}
}

// loginAdmin bootstraps the admin account and returns a logged-in client.
func loginAdmin(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	c := newClient(t, srv)
	creds := url.Values{"username": {"admin"}, "password": {"correct horse"}}
	r := c.postForm("/auth/signup", creds)
	expectStatus(t, r, http.StatusSeeOther)
	if loc := r.header.Get("Location"); loc != "/auth/login" {
		t.Fatalf("signup redirect = %q", loc)
	}
	r = c.postForm("/auth/login", creds)
	expectStatus(t, r, http.StatusSeeOther)
	if loc := r.header.Get("Location"); loc != "/" {
		t.Fatalf("login redirect = %q", loc)
	}
	return c
}

func createPost(t *testing.T, c *client, body map[string]any) Post {
	t.Helper()
	r := c.sendJSON(http.MethodPost, "/post/add", body)
	expectStatus(t, r, http.StatusOK)
	var out apiResponse
	r.json(t, &out)
	if !out.Success || out.Post == nil {
		t.Fatalf("unexpected response: %s", r.body)
	}
	return *out.Post
}

func TestPublishWorkflow(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)

	post := createPost(t, admin, map[string]any{"title": "T", "content": "<p>c</p>"})
	if post.ID == "" || post.Slug != "t" || post.IsVisible {
		t.Fatalf("created post = %+v", post)
	}

	expectStatus(t, anon.get("/post/t"), http.StatusNotFound)
	expectStatus(t, admin.get("/post/t"), http.StatusOK)
	if body := anon.get("/sitemap.xml").body; strings.Contains(body, "/post/t<") {
		t.Fatalf("draft listed in sitemap:\n%s", body)
	}

	r := admin.get("/post/toggle-visibility/" + post.ID)
	expectStatus(t, r, http.StatusSeeOther)
	if loc := r.header.Get("Location"); loc != "/" {
		t.Errorf("toggle redirect = %q", loc)
	}

	r = anon.get("/post/t")
	expectStatus(t, r, http.StatusOK)
	if r.body != "post:T" {
		t.Errorf("detail body = %q", r.body)
	}

	r = anon.get("/sitemap.xml")
	expectStatus(t, r, http.StatusOK)
	if !strings.Contains(r.body, "<loc>https://blog.example.com/post/t</loc>") {
		t.Fatalf("published post missing from sitemap:\n%s", r.body)
	}
	if cc := r.header.Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("sitemap Cache-Control = %q", cc)
	}
	if ct := r.header.Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("sitemap Content-Type = %q", ct)
	}

	expectStatus(t, admin.get("/post/toggle-visibility/"+post.ID), http.StatusSeeOther)
	expectStatus(t, anon.get("/post/t"), http.StatusNotFound)
	if body := anon.get("/sitemap.xml").body; strings.Contains(body, "/post/t<") {
		t.Fatalf("hidden post still in sitemap:\n%s", body)
	}
}

func TestEditRenamesAndMovesSitemapEntry(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)

	post := createPost(t, admin, map[string]any{"title": "Hello World", "content": "<p>c</p>", "tags": "go, web"})
	if post.Slug != "hello-world" || len(post.Tags) != 2 {
		t.Fatalf("created post = %+v", post)
	}
	expectStatus(t, admin.get("/post/toggle-visibility/"+post.ID), http.StatusSeeOther)

	r := admin.sendJSON(http.MethodPut, "/post/edit/"+post.ID, map[string]any{
		"title":   "Merhaba Dünya",
		"content": "<pre><code>x := 1</code></pre>",
		"tags":    []string{"go"},
	})
	expectStatus(t, r, http.StatusOK)
	var out apiResponse
	r.json(t, &out)
	if out.Post.Slug != "merhaba-dunya" || !out.Post.HasCode || !out.Post.IsVisible || len(out.Post.Tags) != 1 {
		t.Fatalf("edited post = %+v", out.Post)
	}

	expectStatus(t, anon.get("/post/hello-world"), http.StatusNotFound)
	expectStatus(t, anon.get("/post/merhaba-dunya"), http.StatusOK)
	body := anon.get("/sitemap.xml").body
	if strings.Contains(body, "/post/hello-world<") || !strings.Contains(body, "/post/merhaba-dunya<") {
		t.Fatalf("sitemap not updated for rename:\n%s", body)
	}
}

func TestEditDateRefreshesSitemapLastmod(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)

	post := createPost(t, admin, map[string]any{"title": "Dated", "content": "<p>c</p>", "date": "2024-01-02"})
	expectStatus(t, admin.get("/post/toggle-visibility/"+post.ID), http.StatusSeeOther)
	if body := anon.get("/sitemap.xml").body; !strings.Contains(body, "<lastmod>2024-01-02T00:00:00Z</lastmod>") {
		t.Fatalf("initial lastmod missing:\n%s", body)
	}

	r := admin.sendJSON(http.MethodPut, "/post/edit/"+post.ID, map[string]any{
		"title":   "Dated",
		"content": "<p>c</p>",
		"date":    "2024-05-06",
	})
	expectStatus(t, r, http.StatusOK)

	body := anon.get("/sitemap.xml").body
	if strings.Contains(body, "2024-01-02T") || !strings.Contains(body, "<lastmod>2024-05-06T00:00:00Z</lastmod>") {
		t.Fatalf("lastmod not refreshed:\n%s", body)
	}
	if n := strings.Count(body, "/post/dated<"); n != 1 {
		t.Fatalf("post listed %d times, want 1", n)
	}
}

func TestDeleteVisiblePost(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)

	post := createPost(t, admin, map[string]any{"title": "Gone", "content": "<p>c</p>"})
	expectStatus(t, admin.get("/post/toggle-visibility/"+post.ID), http.StatusSeeOther)
	if body := anon.get("/sitemap.xml").body; !strings.Contains(body, "/post/gone<") {
		t.Fatalf("post missing from sitemap before delete:\n%s", body)
	}

	r := admin.get("/post/delete/" + post.ID)
	expectStatus(t, r, http.StatusSeeOther)
	expectStatus(t, anon.get("/post/gone"), http.StatusNotFound)
	if body := anon.get("/sitemap.xml").body; strings.Contains(body, "/post/gone<") {
		t.Fatalf("deleted post still in sitemap:\n%s", body)
	}
	expectStatus(t, admin.get("/post/delete/"+post.ID), http.StatusNotFound)
}

func TestAddPostValidation(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"content": "<p>c</p>"}},
		{"blank title", map[string]any{"title": "   ", "content": "<p>c</p>"}},
		{"missing content", map[string]any{"title": "T"}},
		{"bad date", map[string]any{"title": "T", "content": "c", "date": "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := admin.sendJSON(http.MethodPost, "/post/add", tt.body)
			expectStatus(t, r, http.StatusBadRequest)
			var out apiResponse
			r.json(t, &out)
			if out.Success || out.Error == "" {
				t.Errorf("unexpected body: %s", r.body)
			}
		})
	}
}

func TestWriteRoutesRequireAdmin(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)
	post := createPost(t, admin, map[string]any{"title": "T", "content": "c"})

	for _, path := range []string{"/post/add", "/post/edit/" + post.ID} {
		r := anon.get(path)
		expectStatus(t, r, http.StatusSeeOther)
		if loc := r.header.Get("Location"); loc != "/auth/login" {
			t.Errorf("GET %s redirect = %q", path, loc)
		}
	}

	api := []response{
		anon.sendJSON(http.MethodPost, "/post/add", map[string]any{"title": "X", "content": "c"}),
		anon.sendJSON(http.MethodPut, "/post/edit/"+post.ID, map[string]any{"title": "X", "content": "c"}),
		anon.get("/post/delete/" + post.ID),
		anon.get("/post/toggle-visibility/" + post.ID),
	}
	for i, r := range api {
		if r.code != http.StatusUnauthorized {
			t.Errorf("request %d: status = %d, want 401", i, r.code)
		}
		var out apiResponse
		r.json(t, &out)
		if out.Success {
			t.Errorf("request %d: success reported", i)
		}
	}

	// Nothing changed.
	r := admin.getJSON("/post/" + post.Slug)
	expectStatus(t, r, http.StatusOK)
	var got Post
	r.json(t, &got)
	if got.IsVisible || got.Title != "T" {
		t.Errorf("post modified by anonymous requests: %+v", got)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)

	b, _ := json.Marshal(map[string]any{"title": "T", "content": "c"})
	r := admin.do(http.MethodPost, "/post/add", "application/json", bytes.NewReader(b),
		map[string]string{"X-CSRF-Token": "forged", "Accept": "application/json"})
	expectStatus(t, r, http.StatusForbidden)
}

func TestHomePagination(t *testing.T) {
	app, srv := newTestApp(t)
	seedPosts(t, app.Posts, 17, true)
	seedPosts(t, app.Posts, 2, false)
	anon := newClient(t, srv)

	r := anon.getJSON("/?page=2")
	expectStatus(t, r, http.StatusOK)
	var page PostPage
	r.json(t, &page)
	if len(page.Posts) != 7 || page.CurrentPage != 2 || page.TotalPages != 2 || page.TotalPosts != 17 {
		t.Fatalf("page = %+v", page)
	}
	for i := 1; i < len(page.Posts); i++ {
		if page.Posts[i].Date.After(page.Posts[i-1].Date) {
			t.Fatalf("posts not in descending date order")
		}
	}
	if page.Posts[0].Content != "" {
		t.Error("listing should not carry full content")
	}

	r = anon.get("/")
	expectStatus(t, r, http.StatusOK)
	if !strings.HasPrefix(r.body, "home page=1/2 post-17 ") {
		t.Errorf("home body = %q", r.body)
	}

	expectStatus(t, anon.get("/?page=0"), http.StatusBadRequest)
	expectStatus(t, anon.get("/?page=abc"), http.StatusBadRequest)

	r = anon.getJSON("/?page=1000000000000000000")
	expectStatus(t, r, http.StatusOK)
	r.json(t, &page)
	if len(page.Posts) != 0 || page.TotalPosts != 17 {
		t.Fatalf("far page = %+v, want empty listing", page)
	}
}

func TestAdminSeesDrafts(t *testing.T) {
	app, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	seedPosts(t, app.Posts, 2, false)

	r := admin.getJSON("/")
	var page PostPage
	r.json(t, &page)
	if page.TotalPosts != 2 {
		t.Fatalf("admin listing = %+v, want drafts included", page)
	}
	if cc := r.header.Get("Cache-Control"); cc != "private, no-store" {
		t.Errorf("admin Cache-Control = %q", cc)
	}

	anon := newClient(t, srv)
	r = anon.getJSON("/")
	r.json(t, &page)
	if page.TotalPosts != 0 {
		t.Fatalf("anonymous listing = %+v, want no drafts", page)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	_, srv := newTestApp(t)
	loginAdmin(t, srv)
	c := newClient(t, srv)

	wrongPass := c.postForm("/auth/login", url.Values{"username": {"admin"}, "password": {"nope"}})
	unknownUser := c.postForm("/auth/login", url.Values{"username": {"ghost"}, "password": {"nope"}})
	expectStatus(t, wrongPass, http.StatusUnauthorized)
	expectStatus(t, unknownUser, http.StatusUnauthorized)
	if wrongPass.body != unknownUser.body {
		t.Errorf("failure bodies differ: %q vs %q", wrongPass.body, unknownUser.body)
	}
	if wrongPass.body != "login:"+msgInvalidCredentials {
		t.Errorf("failure body = %q", wrongPass.body)
	}

	expectStatus(t, c.postForm("/auth/login", url.Values{"username": {"admin"}}), http.StatusBadRequest)
	expectStatus(t, c.postForm("/auth/login", url.Values{"password": {"x"}}), http.StatusBadRequest)

	// Still anonymous.
	expectStatus(t, c.get("/post/add"), http.StatusSeeOther)
}

func TestLoginRateLimited(t *testing.T) {
	_, srv := newTestApp(t)
	loginAdmin(t, srv)
	c := newClient(t, srv)

	bad := url.Values{"username": {"admin"}, "password": {"nope"}}
	for i := 0; i < 5; i++ {
		expectStatus(t, c.postForm("/auth/login", bad), http.StatusUnauthorized)
	}
	expectStatus(t, c.postForm("/auth/login", bad), http.StatusTooManyRequests)
	good := url.Values{"username": {"admin"}, "password": {"correct horse"}}
	expectStatus(t, c.postForm("/auth/login", good), http.StatusTooManyRequests)
}

func TestSignupClosesAfterFirstAccount(t *testing.T) {
	_, srv := newTestApp(t)
	c := newClient(t, srv)

	r := c.get("/auth/signup")
	expectStatus(t, r, http.StatusOK)
	if r.body != "signup:" {
		t.Errorf("open signup page = %q", r.body)
	}
	expectStatus(t, c.postForm("/auth/signup", url.Values{"username": {"admin"}}), http.StatusBadRequest)

	loginAdmin(t, srv)

	r = c.get("/auth/signup")
	expectStatus(t, r, http.StatusOK)
	if r.body != "login:"+msgSignupClosed {
		t.Errorf("closed signup page = %q", r.body)
	}
	r = c.postForm("/auth/signup", url.Values{"username": {"intruder"}, "password": {"pw"}})
	expectStatus(t, r, http.StatusForbidden)
	if !strings.Contains(r.body, msgSignupClosed) {
		t.Errorf("closed signup body = %q", r.body)
	}
}

func TestLogout(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)

	r := admin.get("/auth/login")
	expectStatus(t, r, http.StatusSeeOther)

	r = admin.get("/auth/logout")
	expectStatus(t, r, http.StatusSeeOther)
	if loc := r.header.Get("Location"); loc != "/" {
		t.Errorf("logout redirect = %q", loc)
	}
	expectStatus(t, admin.get("/post/add"), http.StatusSeeOther)
	expectStatus(t, admin.get("/auth/login"), http.StatusOK)
}

func TestStaleSessionCookieIsReplaced(t *testing.T) {
	_, srv := newTestApp(t)
	loginAdmin(t, srv)
	c := newClient(t, srv)
	u, _ := url.Parse(srv.URL)
	plant := func() {
		c.http.Jar.SetCookies(u, []*http.Cookie{{Name: sessionName, Value: "MTIzNDU2Nzg5MA==", Path: "/"}})
	}

	plant()
	expectStatus(t, c.get("/"), http.StatusOK)
	expectStatus(t, c.get("/auth/logout"), http.StatusSeeOther)

	plant()
	bad := url.Values{"username": {"admin"}, "password": {"nope"}}
	expectStatus(t, c.postForm("/auth/login", bad), http.StatusUnauthorized)

	plant()
	good := url.Values{"username": {"admin"}, "password": {"correct horse"}}
	expectStatus(t, c.postForm("/auth/login", good), http.StatusSeeOther)
	expectStatus(t, c.get("/post/add"), http.StatusOK)
}

func TestPublicPagesAndFeed(t *testing.T) {
	app, srv := newTestApp(t)
	seedPosts(t, app.Posts, 2, true)
	seedPosts(t, app.Posts, 1, false)
	anon := newClient(t, srv)

	r := anon.get("/me")
	expectStatus(t, r, http.StatusOK)
	if r.body != "about" {
		t.Errorf("about body = %q", r.body)
	}

	r = anon.get("/me/")
	expectStatus(t, r, http.StatusMovedPermanently)
	if loc := r.header.Get("Location"); loc != "/me" {
		t.Errorf("trailing slash redirect = %q", loc)
	}

	r = anon.get("/feed.xml")
	expectStatus(t, r, http.StatusOK)
	if !strings.Contains(r.body, "https://blog.example.com/post/post-2") || strings.Contains(r.body, "post-1-2") {
		t.Errorf("feed body:\n%s", r.body)
	}

	r = anon.get("/robots.txt")
	expectStatus(t, r, http.StatusOK)
	if !strings.Contains(r.body, "Sitemap: https://blog.example.com/sitemap.xml") {
		t.Errorf("robots body = %q", r.body)
	}

	r = anon.get("/nope")
	expectStatus(t, r, http.StatusNotFound)
	if r.body != "not found" {
		t.Errorf("404 body = %q", r.body)
	}
}

func TestMediaRoutes(t *testing.T) {
	_, srv := newTestApp(t)
	admin := loginAdmin(t, srv)
	anon := newClient(t, srv)

	upload := func(c *client, name string) response {
		var buf bytes.Buffer
		w := multipartImage(t, &buf, name)
		return c.do(http.MethodPost, "/media", w, &buf, map[string]string{"Accept": "application/json"})
	}

	expectStatus(t, upload(anon, "x.png"), http.StatusUnauthorized)

	r := upload(admin, "My Photo.png")
	expectStatus(t, r, http.StatusCreated)
	var out struct {
		Success bool
		Object  storage.Object
		URL     string
	}
	r.json(t, &out)
	if out.Object.Key != "my-photo.jpg" || out.URL != "/media/my-photo.jpg" {
		t.Fatalf("upload = %+v", out)
	}
	r = upload(admin, "My Photo.png")
	r.json(t, &out)
	if out.Object.Key != "my-photo-2.jpg" {
		t.Fatalf("second upload key = %q", out.Object.Key)
	}

	r = anon.get("/media/my-photo.jpg")
	expectStatus(t, r, http.StatusOK)
	if ct := r.header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}

	r = admin.getJSON("/media")
	expectStatus(t, r, http.StatusOK)
	var objs []storage.Object
	r.json(t, &objs)
	if len(objs) != 2 {
		t.Fatalf("listed %d objects, want 2", len(objs))
	}

	expectStatus(t, admin.do(http.MethodDelete, "/media/my-photo.jpg", "", nil, map[string]string{"Accept": "application/json"}), http.StatusOK)
	expectStatus(t, anon.get("/media/my-photo.jpg"), http.StatusNotFound)
}
