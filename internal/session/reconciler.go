// Package session reconciles identity and cache state around sign-out,
// guest upgrade, and post mutations.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/identity"
	"github.com/vaibhavsaha/guestnotes/internal/kvstore"
	"github.com/vaibhavsaha/guestnotes/internal/posts"
)

// AuthClient is the slice of the service adapter the reconciler uses.
type AuthClient interface {
	SignOut(ctx context.Context) error
}

// Reconciler owns the post cache lifecycle and the local cleanup that keeps
// identity state consistent with the remote service.
type Reconciler struct {
	auth     AuthClient
	store    kvstore.Store
	resolver *identity.Resolver
	cache    *posts.Cache
	logger   *zap.Logger

	mu      sync.Mutex
	pending *posts.Draft
}

// NewReconciler creates a reconciler.
func NewReconciler(auth AuthClient, store kvstore.Store, resolver *identity.Resolver, cache *posts.Cache, logger *zap.Logger) (*Reconciler, error) {
	if auth == nil {
		return nil, errors.New("auth client is required")
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	if cache == nil {
		return nil, errors.New("post cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		auth:     auth,
		store:    store,
		resolver: resolver,
		cache:    cache,
		logger:   logger,
	}, nil
}

// MutationCompleted invalidates the cached post list after a successful
// create, update, or delete. The next list call refetches.
func (r *Reconciler) MutationCompleted() {
	r.cache.Invalidate()
}

// SignOut clears the session with the remote service and resets all local
// identity state. The remote call is best-effort: a failure is logged, never
// surfaced, because local state must reset regardless.
func (r *Reconciler) SignOut(ctx context.Context) {
	if err := r.auth.SignOut(ctx); err != nil {
		r.logger.Warn("remote sign-out failed, resetting local state anyway", zap.Error(err))
	}

	if err := r.resolver.ClearGuest(); err != nil {
		r.logger.Warn("failed to clear guest identity", zap.Error(err))
	}

	// Sweep every guest- and session-flavored key, including the
	// service-managed ones under the sb- prefix.
	if err := kvstore.RemoveMatching(r.store, isIdentityKey); err != nil {
		r.logger.Warn("failed to sweep session keys", zap.Error(err))
	}

	r.cache.Invalidate()
	r.logger.Info("signed out")
}

// isIdentityKey matches the guest keys, the service session keys, and any
// other auth-flavored leftovers.
func isIdentityKey(key string) bool {
	if key == identity.StorageKeyGuestID || key == identity.StorageKeyGuestUser {
		return true
	}
	if strings.HasPrefix(key, backend.SessionKeyPrefix) {
		return true
	}
	lower := strings.ToLower(key)
	return strings.Contains(lower, "auth") || strings.Contains(lower, "guest")
}

// HandleWriteError inspects a failed create. On a credential rejection it
// holds the draft so the user can resubmit it manually after registering,
// and returns true to signal the prompt-to-register state instead of a
// generic write failure. Any other error returns false.
func (r *Reconciler) HandleWriteError(err error, draft posts.Draft) bool {
	if !apperr.IsKind(err, apperr.KindAuthRequired) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	held := draft
	r.pending = &held
	return true
}

// PendingDraft returns the draft held by a credential rejection, if any,
// without consuming it.
func (r *Reconciler) PendingDraft() (posts.Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return posts.Draft{}, false
	}
	return *r.pending, true
}

// TakePendingDraft returns and clears the held draft. Resubmission is
// manual; the draft is never auto-retried.
func (r *Reconciler) TakePendingDraft() (posts.Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return posts.Draft{}, false
	}
	draft := *r.pending
	r.pending = nil
	return draft, true
}

// UpgradeGuest discards the guest identity so the next resolution presents
// the sign-in flow. Posts created under the guest id are not migrated; they
// stay owned by the now-orphaned identity.
func (r *Reconciler) UpgradeGuest() error {
	if err := r.resolver.ClearGuest(); err != nil {
		return err
	}
	r.cache.Invalidate()
	r.logger.Info("cleared guest identity for account upgrade")
	return nil
}
