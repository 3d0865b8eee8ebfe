// Package pgstore is a PostgreSQL implementation of the weblog post and
// user repositories, built on pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eringen/weblog"
)

const maxSlugAttempts = 3

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store implements weblog.PostRepository and weblog.UserRepository.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ weblog.PostRepository = (*Store)(nil)
	_ weblog.UserRepository = (*Store)(nil)
)

// Open connects to databaseURL, verifies the connection, and migrates the
// schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS posts (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    date TIMESTAMPTZ NOT NULL,
    tags TEXT[] NOT NULL DEFAULT '{}',
    content TEXT NOT NULL,
    has_code BOOLEAN NOT NULL DEFAULT FALSE,
    is_visible BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_posts_visible_date ON posts (is_visible, date DESC);

CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

const postColumns = `id::text, title, slug, date, tags, content, has_code, is_visible`

func scanPost(row pgx.Row) (weblog.Post, error) {
	var p weblog.Post
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Date, &p.Tags, &p.Content, &p.HasCode, &p.IsVisible)
	if errors.Is(err, pgx.ErrNoRows) {
		return weblog.Post{}, weblog.ErrNotFound
	}
	if err != nil {
		return weblog.Post{}, err
	}
	p.Date = p.Date.UTC()
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) slugTaken(excludeID string) func(context.Context, string) (bool, error) {
	return func(ctx context.Context, slug string) (bool, error) {
		var taken bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM posts WHERE slug = $1 AND id::text <> $2)`, slug, excludeID).Scan(&taken)
		return taken, err
	}
}

// CreatePost inserts a new, initially invisible post.
func (s *Store) CreatePost(ctx context.Context, in weblog.PostInput) (weblog.Post, error) {
	p := weblog.Post{
		ID:      uuid.NewString(),
		Title:   in.Title,
		Date:    in.Date,
		Tags:    weblog.NormalizeTags(in.Tags),
		Content: in.Content,
		HasCode: in.HasCode,
	}
	if p.Date.IsZero() {
		p.Date = time.Now()
	}
	p.Date = p.Date.UTC().Truncate(time.Microsecond)

	var err error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p.Slug, err = weblog.UniqueSlug(ctx, p.Title, s.slugTaken(p.ID))
		if err != nil {
			return weblog.Post{}, weblog.WrapStoreError("create post", err)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO posts (id, title, slug, date, tags, content, has_code, is_visible)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.Title, p.Slug, p.Date, p.Tags, p.Content, p.HasCode, p.IsVisible)
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return weblog.Post{}, weblog.WrapStoreError("create post", err)
	}
	return p, nil
}

// FindPostByID returns the post with id regardless of visibility.
func (s *Store) FindPostByID(ctx context.Context, id string) (weblog.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return weblog.Post{}, weblog.ErrNotFound
	}
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	return p, weblog.WrapStoreError("find post", err)
}

// FindPostBySlug returns the post with slug regardless of visibility.
func (s *Store) FindPostBySlug(ctx context.Context, slug string) (weblog.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE slug = $1`, slug))
	return p, weblog.WrapStoreError("find post by slug", err)
}

// ListPosts returns posts ordered by date descending.
func (s *Store) ListPosts(ctx context.Context, q weblog.PostQuery) ([]weblog.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	if q.Filter.VisibleOnly {
		query += ` WHERE is_visible`
	}
	query += ` ORDER BY date DESC, id OFFSET $1`
	args := []any{max(q.Skip, 0)}
	if q.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, weblog.WrapStoreError("list posts", err)
	}
	defer rows.Close()

	var posts []weblog.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, weblog.WrapStoreError("list posts", err)
		}
		posts = append(posts, p)
	}
	return posts, weblog.WrapStoreError("list posts", rows.Err())
}

// CountPosts returns the number of posts matching f.
func (s *Store) CountPosts(ctx context.Context, f weblog.PostFilter) (int, error) {
	query := `SELECT COUNT(*) FROM posts`
	if f.VisibleOnly {
		query += ` WHERE is_visible`
	}
	var n int
	err := s.pool.QueryRow(ctx, query).Scan(&n)
	return n, weblog.WrapStoreError("count posts", err)
}

// UpdatePost applies the non-nil fields of u. A changed title re-derives
// the slug.
func (s *Store) UpdatePost(ctx context.Context, id string, u weblog.PostUpdate) (weblog.Post, error) {
	p, err := s.FindPostByID(ctx, id)
	if err != nil {
		return weblog.Post{}, err
	}
	titleChanged := u.Title != nil && *u.Title != p.Title
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Date != nil {
		p.Date = u.Date.UTC().Truncate(time.Microsecond)
	}
	if u.Tags != nil {
		p.Tags = weblog.NormalizeTags(*u.Tags)
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.HasCode != nil {
		p.HasCode = *u.HasCode
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if titleChanged {
			p.Slug, err = weblog.UniqueSlug(ctx, p.Title, s.slugTaken(p.ID))
			if err != nil {
				return weblog.Post{}, weblog.WrapStoreError("update post", err)
			}
		}
		var tag pgconn.CommandTag
		tag, err = s.pool.Exec(ctx,
			`UPDATE posts SET title = $1, slug = $2, date = $3, tags = $4, content = $5, has_code = $6 WHERE id = $7`,
			p.Title, p.Slug, p.Date, p.Tags, p.Content, p.HasCode, p.ID)
		if err == nil {
			if tag.RowsAffected() == 0 {
				return weblog.Post{}, weblog.ErrNotFound
			}
			return p, nil
		}
		if !titleChanged || !isUniqueViolation(err) {
			break
		}
	}
	return weblog.Post{}, weblog.WrapStoreError("update post", err)
}

// ToggleVisibility flips is_visible and returns the updated post.
func (s *Store) ToggleVisibility(ctx context.Context, id string) (weblog.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return weblog.Post{}, weblog.ErrNotFound
	}
	p, err := scanPost(s.pool.QueryRow(ctx,
		`UPDATE posts SET is_visible = NOT is_visible WHERE id = $1 RETURNING `+postColumns, id))
	return p, weblog.WrapStoreError("toggle visibility", err)
}

// DeletePost removes a post by id.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return weblog.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return weblog.WrapStoreError("delete post", err)
	}
	if tag.RowsAffected() == 0 {
		return weblog.ErrNotFound
	}
	return nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, weblog.WrapStoreError("count users", err)
}

// FindUserByUsername looks up the account by username.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (weblog.User, error) {
	var u weblog.User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, username, password_hash, created_at FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return weblog.User{}, weblog.ErrNotFound
	}
	return u, weblog.WrapStoreError("find user", err)
}

// CreateFirstUser inserts the admin account. The insert and the emptiness
// check run under a table lock so two concurrent signups cannot both
// succeed.
func (s *Store) CreateFirstUser(ctx context.Context, username, passwordHash string) (weblog.User, error) {
	u := weblog.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE users IN EXCLUSIVE MODE`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `INSERT INTO users (id, username, password_hash, created_at)
			SELECT $1, $2, $3, $4 WHERE NOT EXISTS (SELECT 1 FROM users)`,
			u.ID, u.Username, u.PasswordHash, u.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return weblog.ErrSignupClosed
		}
		return nil
	})
	if err != nil {
		return weblog.User{}, weblog.WrapStoreError("create user", err)
	}
	return u, nil
}
