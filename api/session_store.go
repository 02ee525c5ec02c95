package api

import (
	"context"
	"time"

	"github.com/funstudy/funstudy/auth"
)

// SessionStore abstracts session CRUD so that sessions can be kept in memory
// (default) or sealed in the document store.
type SessionStore interface {
	// Get retrieves a session by token. Returns false if the session does
	// not exist or has expired.
	Get(ctx context.Context, token string) (Session, bool)
	// Put creates or updates a session for the given token.
	Put(ctx context.Context, token string, session Session) error
	// Delete removes a session by token.
	Delete(ctx context.Context, token string) error
}

// Session is the server-side state behind the session cookie. Provider
// tokens live here and are never returned to the browser.
type Session struct {
	ID             string             `json:"id"`
	User           *auth.SessionUser  `json:"user,omitempty"`
	Tokens         *auth.Tokens       `json:"tokens,omitempty"`
	Pending        *auth.PendingLogin `json:"pending,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ExpiresAt      time.Time          `json:"expires_at"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
}

// Authenticated reports whether the session completed a login.
func (s Session) Authenticated() bool { return s.User != nil }

func (s Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }
