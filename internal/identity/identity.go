// Package identity resolves the acting identity for post ownership.
//
// Three user states exist: authenticated (session issued by the auth
// service), guest (client-generated identifier persisted locally), and none.
// At most one identity is active at a time; an authenticated session always
// wins over a stored guest identity.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/kvstore"
)

// Client-local storage keys for the guest identity.
const (
	StorageKeyGuestID   = "guestUserId"
	StorageKeyGuestUser = "guestUser"
)

// Kind is the identity state.
type Kind int

const (
	// None means no identity resolved, or signed out.
	None Kind = iota

	// Guest is a client-generated identity usable to own posts without
	// registration.
	Guest

	// Authenticated is an account identity bound to a server session.
	Authenticated
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	default:
		return "none"
	}
}

// User is the unified identity representation.
type User struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
}

// IsGuest reports whether the user is a guest identity.
func (u User) IsGuest() bool { return u.Kind == Guest }

// IsAuthenticated reports whether the user holds a server session.
func (u User) IsAuthenticated() bool { return u.Kind == Authenticated }

// IsNone reports whether no identity is active.
func (u User) IsNone() bool { return u.Kind == None }

// guestRecord is the serialized guest stored under StorageKeyGuestUser.
type guestRecord struct {
	ID      string `json:"id"`
	IsGuest bool   `json:"isGuest"`
}

// SessionSource provides the active authenticated session, if any.
type SessionSource interface {
	GetSession(ctx context.Context) (*backend.Session, error)
}

// Resolver determines the current acting identity.
type Resolver struct {
	sessions SessionSource
	store    kvstore.Store
	logger   *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(sessions SessionSource, store kvstore.Store, logger *zap.Logger) (*Resolver, error) {
	if sessions == nil {
		return nil, errors.New("session source is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{sessions: sessions, store: store, logger: logger}, nil
}

// Resolve returns the current acting identity, preferring an authenticated
// session over a stored guest identity over none, in that fixed order.
//
// Resolve is read-only and safe to call repeatedly; the result may change
// between calls when storage or session state changes externally.
func (r *Resolver) Resolve(ctx context.Context) User {
	session, err := r.sessions.GetSession(ctx)
	if err != nil {
		// A failed session lookup means signed out, not a hard failure.
		r.logger.Warn("session lookup failed", zap.Error(err))
	}
	if session != nil {
		return User{
			Kind:  Authenticated,
			ID:    session.User.ID,
			Email: session.User.Email,
		}
	}

	if guestID, ok := r.store.Get(StorageKeyGuestID); ok && guestID != "" {
		return User{Kind: Guest, ID: guestID}
	}

	return User{Kind: None}
}

// CreateGuest generates a new guest identity and persists it. An existing
// guest identity is overwritten.
func (r *Resolver) CreateGuest() (User, error) {
	id := uuid.NewString()

	if err := r.store.Set(StorageKeyGuestID, id); err != nil {
		return User{}, fmt.Errorf("failed to persist guest id: %w", err)
	}

	record, err := json.Marshal(guestRecord{ID: id, IsGuest: true})
	if err != nil {
		return User{}, fmt.Errorf("failed to encode guest record: %w", err)
	}
	if err := r.store.Set(StorageKeyGuestUser, string(record)); err != nil {
		return User{}, fmt.Errorf("failed to persist guest record: %w", err)
	}

	r.logger.Info("created guest identity", zap.String("guest_id", id))
	return User{Kind: Guest, ID: id}, nil
}

// ClearGuest removes the persisted guest identity.
func (r *Resolver) ClearGuest() error {
	if err := r.store.Remove(StorageKeyGuestID); err != nil {
		return fmt.Errorf("failed to remove guest id: %w", err)
	}
	if err := r.store.Remove(StorageKeyGuestUser); err != nil {
		return fmt.Errorf("failed to remove guest record: %w", err)
	}
	return nil
}
