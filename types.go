package weblog

import "time"

// Post is an article, either a private draft or publicly visible.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Date      time.Time `json:"date"`
	Tags      []string  `json:"tags"`
	Content   string    `json:"content,omitempty"`
	HasCode   bool      `json:"hasCode"`
	IsVisible bool      `json:"isVisible"`

	// Summary is a bounded plain-text prefix of Content, filled for
	// listings only.
	Summary string `json:"summary,omitempty"`
}

// Link returns the site-relative path of the post detail page.
func (p Post) Link() string {
	return "/post/" + p.Slug
}

// PostInput carries the client-supplied fields of a new post. The slug is
// always derived from Title by the repository.
type PostInput struct {
	Title   string
	Date    time.Time // zero means now
	Tags    []string
	Content string
	HasCode bool
}

// PostUpdate is a partial update; nil fields are left unchanged.
type PostUpdate struct {
	Title   *string
	Date    *time.Time
	Tags    *[]string
	Content *string
	HasCode *bool
}

// PostFilter narrows list and count queries.
type PostFilter struct {
	VisibleOnly bool
}

// PostQuery is a filtered, paginated listing request. Results are ordered
// newest first. Limit <= 0 returns everything after Skip.
type PostQuery struct {
	Filter PostFilter
	Skip   int
	Limit  int
}

// User is the single administrative account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PostPage is one page of a listing along with pagination metadata.
type PostPage struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	TotalPosts  int    `json:"totalPosts"`
}

// PageMeta carries per-page SEO metadata into the layout template.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical
}
