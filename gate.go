package weblog

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eringen/weblog/content"
)

// Viewer is the immutable, request-scoped identity the gate decides on.
type Viewer struct {
	Authorized bool
	User       *User
}

// Anonymous is the viewer of an unauthenticated request. Public artifacts
// such as the sitemap and feed are always built for it.
var Anonymous = Viewer{}

// ListFilter returns the filter a listing for v must use.
func (v Viewer) ListFilter() PostFilter {
	return PostFilter{VisibleOnly: !v.Authorized}
}

// CanView reports whether v may see p.
func (v Viewer) CanView(p Post) bool {
	return v.Authorized || p.IsVisible
}

// CanWrite reports whether v may add, edit, delete or toggle posts.
func (v Viewer) CanWrite() bool {
	return v.Authorized
}

const viewerKey = "weblog.viewer"

// ViewerFrom returns the viewer stored by the viewer middleware, or
// Anonymous when none is set.
func ViewerFrom(c echo.Context) Viewer {
	v, _ := c.Get(viewerKey).(Viewer)
	return v
}

// viewerMiddleware reads the session once and pins the request's Viewer.
func (a *App) viewerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(viewerKey, sessionViewer(c))
		return next(c)
	}
}

// requireAdminPage redirects anonymous visitors of form pages to login.
func requireAdminPage(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ViewerFrom(c).CanWrite() {
			return c.Redirect(http.StatusSeeOther, "/auth/login")
		}
		return next(c)
	}
}

// requireAdminAPI rejects anonymous mutations with 401.
func requireAdminAPI(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ViewerFrom(c).CanWrite() {
			return ErrUnauthorized
		}
		return next(c)
	}
}

// Gate is the only read path from handlers to the post repository. It
// applies the viewer's visibility policy to every query.
type Gate struct {
	posts PostRepository
}

// NewGate returns a Gate over posts.
func NewGate(posts PostRepository) *Gate {
	return &Gate{posts: posts}
}

// Page returns page n (1-based) of the listing visible to v. Listing
// entries carry a Summary instead of the full Content.
func (g *Gate) Page(ctx context.Context, v Viewer, n, perPage int) (PostPage, error) {
	if n < 1 {
		n = 1
	}
	filter := v.ListFilter()
	total, err := g.posts.CountPosts(ctx, filter)
	if err != nil {
		return PostPage{}, err
	}
	page := PostPage{
		Posts:       []Post{},
		CurrentPage: n,
		TotalPages:  (total + perPage - 1) / perPage,
		TotalPosts:  total,
	}
	// Pages past the end are empty; checking first keeps the offset
	// below from overflowing on absurd page numbers.
	if n > page.TotalPages {
		return page, nil
	}
	posts, err := g.posts.ListPosts(ctx, PostQuery{
		Filter: filter,
		Skip:   (n - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return PostPage{}, err
	}
	for i := range posts {
		posts[i].Summary = content.Summary(posts[i].Content, content.SummaryLength)
		posts[i].Content = ""
	}
	if posts != nil {
		page.Posts = posts
	}
	return page, nil
}

// Latest returns up to n of the newest posts visible to v.
func (g *Gate) Latest(ctx context.Context, v Viewer, n int) ([]Post, error) {
	return g.posts.ListPosts(ctx, PostQuery{Filter: v.ListFilter(), Limit: n})
}

// Post returns the post with slug, or ErrNotFound when it does not exist
// or v may not see it. Hidden posts are reported as missing so their
// existence does not leak.
func (g *Gate) Post(ctx context.Context, v Viewer, slug string) (Post, error) {
	p, err := g.posts.FindPostBySlug(ctx, slug)
	if err != nil {
		return Post{}, err
	}
	if !v.CanView(p) {
		return Post{}, ErrNotFound
	}
	return p, nil
}

// Editable returns the post with id for a writer.
func (g *Gate) Editable(ctx context.Context, v Viewer, id string) (Post, error) {
	if !v.CanWrite() {
		return Post{}, ErrUnauthorized
	}
	return g.posts.FindPostByID(ctx, id)
}
