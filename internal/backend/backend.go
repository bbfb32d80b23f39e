// Package backend adapts the hosted auth + row-storage service.
//
// The service exposes password/code authentication, row CRUD on the posts
// table, and an RPC side-channel that sets the acting guest identity so the
// service's row-level access policy can authorize unauthenticated writes.
//
// All remote failures are translated into the apperr taxonomy here, at the
// boundary; callers never inspect raw remote error text.
package backend

import (
	"context"
	"encoding/json"
	"time"
)

// SessionKeyPrefix marks service-managed keys in client-local storage.
// All keys under this prefix are cleared together on sign-out.
const SessionKeyPrefix = "sb-"

// Session is an authenticated session issued by the auth service.
type Session struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         SessionUser `json:"user"`
}

// Expired reports whether the session's access token has expired.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}

// SessionUser is the account a session belongs to.
type SessionUser struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Identities []json.RawMessage `json:"identities"`
}

// Row is a posts-table row as stored by the service.
type Row struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	UserID      string    `json:"user_id"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client is the full surface of the hosted service. Consumers should accept
// the narrowest interface they need; this one exists for wiring.
type Client interface {
	// GetSession returns the persisted session, or nil when no unexpired
	// session exists. Storage errors are swallowed: an unreadable session
	// is treated as signed out.
	GetSession(ctx context.Context) (*Session, error)

	// SignUp registers a new account. When the service requires email
	// confirmation no session is issued; the user must follow the
	// verification link. Reports an error when the email is already
	// registered.
	SignUp(ctx context.Context, email, password string) (*SessionUser, error)

	// SignInWithPassword authenticates and persists the issued session.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignOut revokes the current session with the service. It does not
	// touch local storage; callers own local cleanup.
	SignOut(ctx context.Context) error

	// ExchangeCodeForSession trades a one-time verification code for a
	// session and persists it.
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)

	// SelectPosts fetches all rows visible under the current authorization
	// context, ordered by created_at descending.
	SelectPosts(ctx context.Context) ([]Row, error)

	// InsertPost creates a row and returns it with the server-assigned id
	// and created_at.
	InsertPost(ctx context.Context, row Row) (*Row, error)

	// UpdatePost updates the mutable fields of the row with the given id
	// and returns the updated row. A call that matches no row fails.
	UpdatePost(ctx context.Context, id string, row Row) (*Row, error)

	// DeletePost deletes the row with the given id. Ownership is enforced
	// by the service's row-level access policy, not client-side.
	DeletePost(ctx context.Context, id string) error

	// SetGuestContext tells the service which guest identity is acting, so
	// its access policy can authorize guest-scoped rows. Must complete
	// before the dependent operation is issued.
	SetGuestContext(ctx context.Context, guestID string) error
}
