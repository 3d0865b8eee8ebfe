package weblog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a post or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a write is attempted without an
	// authorized session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSignupClosed is returned once the admin account exists.
	ErrSignupClosed = errors.New("signup closed")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStoreError wraps err as a StoreError unless it is nil, already a
// StoreError, or a domain sentinel that callers match on.
func WrapStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrSignupClosed) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// SitemapIOError reports a failure reading or writing the sitemap file.
// It is logged and never fails the write that triggered it.
type SitemapIOError struct {
	Op  string
	Err error
}

func (e *SitemapIOError) Error() string {
	return fmt.Sprintf("sitemap %s: %v", e.Op, e.Err)
}

func (e *SitemapIOError) Unwrap() error { return e.Err }
