package weblog

import "context"

// PostRepository is typed, policy-free access to post records. Backend
// failures are reported as *StoreError and unknown ids or slugs as
// ErrNotFound. Visibility rules are applied by the caller through a Viewer.
type PostRepository interface {
	CreatePost(ctx context.Context, in PostInput) (Post, error)
	FindPostByID(ctx context.Context, id string) (Post, error)
	FindPostBySlug(ctx context.Context, slug string) (Post, error)
	ListPosts(ctx context.Context, q PostQuery) ([]Post, error)
	CountPosts(ctx context.Context, f PostFilter) (int, error)
	UpdatePost(ctx context.Context, id string, u PostUpdate) (Post, error)
	ToggleVisibility(ctx context.Context, id string) (Post, error)
	DeletePost(ctx context.Context, id string) error
}

// UserRepository stores the single admin account.
type UserRepository interface {
	CountUsers(ctx context.Context) (int, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	// CreateFirstUser persists u only while no user exists, otherwise it
	// returns ErrSignupClosed.
	CreateFirstUser(ctx context.Context, username, passwordHash string) (User, error)
}
