package weblog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// maxSlugAttempts bounds retries when a concurrent writer claims the slug
// picked for a post between the check and the insert.
const maxSlugAttempts = 3

// Store wraps a SQLite database and implements PostRepository and
// UserRepository.
type Store struct {
	db *sql.DB
}

var (
	_ PostRepository = (*Store)(nil)
	_ UserRepository = (*Store)(nil)
)

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them. WAL lets
	// readers proceed during a write; busy_timeout makes writers wait
	// instead of failing with SQLITE_BUSY.
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    date TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    has_code INTEGER NOT NULL DEFAULT 0,
    is_visible INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(date);
CREATE INDEX IF NOT EXISTS idx_posts_visible_date ON posts(is_visible, date);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`)
	return err
}

const postColumns = `id, title, slug, date, tags, content, has_code, is_visible`

// dateLayout sorts lexically in chronological order.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var (
		p                  Post
		date, tags         string
		hasCode, isVisible int
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Slug, &date, &tags, &p.Content, &hasCode, &isVisible); err != nil {
		return Post{}, err
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return Post{}, err
	}
	p.Date = t
	p.Tags = ParseTags(tags)
	p.HasCode = hasCode == 1
	p.IsVisible = isVisible == 1
	return p, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// slugTaken reports whether slug belongs to a post other than excludeID.
func (s *Store) slugTaken(excludeID string) func(context.Context, string) (bool, error) {
	return func(ctx context.Context, slug string) (bool, error) {
		var n int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE slug = ? AND id != ?`, slug, excludeID).Scan(&n)
		return n > 0, err
	}
}

// CreatePost inserts a new, initially invisible post.
func (s *Store) CreatePost(ctx context.Context, in PostInput) (Post, error) {
	p := Post{
		ID:      uuid.NewString(),
		Title:   in.Title,
		Date:    in.Date,
		Tags:    NormalizeTags(in.Tags),
		Content: in.Content,
		HasCode: in.HasCode,
	}
	if p.Date.IsZero() {
		p.Date = time.Now()
	}
	p.Date = p.Date.UTC()

	var err error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p.Slug, err = UniqueSlug(ctx, p.Title, s.slugTaken(p.ID))
		if err != nil {
			return Post{}, WrapStoreError("create post", err)
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Title, p.Slug, formatDate(p.Date), EncodeTags(p.Tags), p.Content, boolInt(p.HasCode), boolInt(p.IsVisible))
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return Post{}, WrapStoreError("create post", err)
	}
	return p, nil
}

// FindPostByID returns the post with id regardless of visibility.
func (s *Store) FindPostByID(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, WrapStoreError("find post", err)
}

// FindPostBySlug returns the post with slug regardless of visibility.
func (s *Store) FindPostBySlug(ctx context.Context, slug string) (Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE slug = ?`, slug)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	return p, WrapStoreError("find post by slug", err)
}

// ListPosts returns posts ordered by date descending.
func (s *Store) ListPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	var args []any
	if q.Filter.VisibleOnly {
		query += ` WHERE is_visible = 1`
	}
	query += ` ORDER BY date DESC, id`
	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(q.Skip, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, WrapStoreError("list posts", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, WrapStoreError("list posts", err)
		}
		posts = append(posts, p)
	}
	return posts, WrapStoreError("list posts", rows.Err())
}

// CountPosts returns the number of posts matching f.
func (s *Store) CountPosts(ctx context.Context, f PostFilter) (int, error) {
	query := `SELECT COUNT(*) FROM posts`
	if f.VisibleOnly {
		query += ` WHERE is_visible = 1`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, WrapStoreError("count posts", err)
}

// UpdatePost applies the non-nil fields of u. A changed title re-derives
// the slug.
func (s *Store) UpdatePost(ctx context.Context, id string, u PostUpdate) (Post, error) {
	p, err := s.FindPostByID(ctx, id)
	if err != nil {
		return Post{}, err
	}
	titleChanged := u.Title != nil && *u.Title != p.Title
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Date != nil {
		p.Date = u.Date.UTC()
	}
	if u.Tags != nil {
		p.Tags = NormalizeTags(*u.Tags)
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.HasCode != nil {
		p.HasCode = *u.HasCode
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if titleChanged {
			p.Slug, err = UniqueSlug(ctx, p.Title, s.slugTaken(p.ID))
			if err != nil {
				return Post{}, WrapStoreError("update post", err)
			}
		}
		var res sql.Result
		res, err = s.db.ExecContext(ctx, `UPDATE posts SET title = ?, slug = ?, date = ?, tags = ?, content = ?, has_code = ? WHERE id = ?`,
			p.Title, p.Slug, formatDate(p.Date), EncodeTags(p.Tags), p.Content, boolInt(p.HasCode), p.ID)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return Post{}, ErrNotFound
			}
			return p, nil
		}
		if !titleChanged || !isUniqueViolation(err) {
			break
		}
	}
	return Post{}, WrapStoreError("update post", err)
}

// ToggleVisibility flips is_visible and returns the updated post.
func (s *Store) ToggleVisibility(ctx context.Context, id string) (Post, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET is_visible = 1 - is_visible WHERE id = ?`, id)
	if err != nil {
		return Post{}, WrapStoreError("toggle visibility", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Post{}, ErrNotFound
	}
	return s.FindPostByID(ctx, id)
}

// DeletePost removes a post by id.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return WrapStoreError("delete post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, WrapStoreError("count users", err)
}

// FindUserByUsername looks up the account by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (User, error) {
	var (
		u         User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, WrapStoreError("find user", err)
	}
	u.CreatedAt, _ = time.Parse(dateLayout, createdAt)
	return u, nil
}

// CreateFirstUser inserts the admin account in a single statement that
// only succeeds while the users table is empty.
func (s *Store) CreateFirstUser(ctx context.Context, username, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, created_at)
		SELECT ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM users)`,
		u.ID, u.Username, u.PasswordHash, formatDate(u.CreatedAt))
	if err != nil {
		return User{}, WrapStoreError("create user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return User{}, ErrSignupClosed
	}
	return u, nil
}
