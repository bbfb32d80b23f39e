package identity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/kvstore"
	"github.com/vaibhavsaha/guestnotes/internal/logging"
)

// fakeSessions is a SessionSource returning a fixed session or error.
type fakeSessions struct {
	session *backend.Session
	err     error
}

func (f *fakeSessions) GetSession(ctx context.Context) (*backend.Session, error) {
	return f.session, f.err
}

func authenticatedSession() *backend.Session {
	return &backend.Session{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		User:        backend.SessionUser{ID: "u1", Email: "a@b.co"},
	}
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(nil, kvstore.NewMemoryStore(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session source is required")

	_, err = NewResolver(&fakeSessions{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage is required")
}

func TestResolve_PrefersAuthenticatedOverGuest(t *testing.T) {
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(StorageKeyGuestID, "g1"))

	r, err := NewResolver(&fakeSessions{session: authenticatedSession()}, store, nil)
	require.NoError(t, err)

	user := r.Resolve(context.Background())
	assert.Equal(t, Authenticated, user.Kind)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "a@b.co", user.Email)
}

func TestResolve_GuestWhenNoSession(t *testing.T) {
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(StorageKeyGuestID, "g1"))

	r, err := NewResolver(&fakeSessions{}, store, nil)
	require.NoError(t, err)

	user := r.Resolve(context.Background())
	assert.Equal(t, Guest, user.Kind)
	assert.Equal(t, "g1", user.ID)
	assert.True(t, user.IsGuest())
}

func TestResolve_NoneWhenNothingStored(t *testing.T) {
	r, err := NewResolver(&fakeSessions{}, kvstore.NewMemoryStore(), nil)
	require.NoError(t, err)

	user := r.Resolve(context.Background())
	assert.Equal(t, None, user.Kind)
	assert.True(t, user.IsNone())
	assert.Empty(t, user.ID)
}

func TestResolve_SessionErrorFallsThroughToGuest(t *testing.T) {
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(StorageKeyGuestID, "g1"))

	tl := logging.NewTestLogger()
	r, err := NewResolver(&fakeSessions{err: errors.New("boom")}, store, tl.Logger)
	require.NoError(t, err)

	user := r.Resolve(context.Background())
	assert.Equal(t, Guest, user.Kind)
	tl.AssertLogged(t, zapcore.WarnLevel, "session lookup failed")
}

func TestResolve_RereadsStorageEachCall(t *testing.T) {
	store := kvstore.NewMemoryStore()
	r, err := NewResolver(&fakeSessions{}, store, nil)
	require.NoError(t, err)

	assert.Equal(t, None, r.Resolve(context.Background()).Kind)

	require.NoError(t, store.Set(StorageKeyGuestID, "g1"))
	assert.Equal(t, Guest, r.Resolve(context.Background()).Kind)

	require.NoError(t, store.Remove(StorageKeyGuestID))
	assert.Equal(t, None, r.Resolve(context.Background()).Kind)
}

func TestCreateGuest(t *testing.T) {
	store := kvstore.NewMemoryStore()
	r, err := NewResolver(&fakeSessions{}, store, nil)
	require.NoError(t, err)

	user, err := r.CreateGuest()
	require.NoError(t, err)
	assert.Equal(t, Guest, user.Kind)
	require.NoError(t, uuid.Validate(user.ID))

	stored, ok := store.Get(StorageKeyGuestID)
	require.True(t, ok)
	assert.Equal(t, user.ID, stored)

	rawRecord, ok := store.Get(StorageKeyGuestUser)
	require.True(t, ok)
	var record struct {
		ID      string `json:"id"`
		IsGuest bool   `json:"isGuest"`
	}
	require.NoError(t, json.Unmarshal([]byte(rawRecord), &record))
	assert.Equal(t, user.ID, record.ID)
	assert.True(t, record.IsGuest)
}

func TestCreateGuest_OverwritesExisting(t *testing.T) {
	store := kvstore.NewMemoryStore()
	r, err := NewResolver(&fakeSessions{}, store, nil)
	require.NoError(t, err)

	first, err := r.CreateGuest()
	require.NoError(t, err)
	second, err := r.CreateGuest()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, _ := store.Get(StorageKeyGuestID)
	assert.Equal(t, second.ID, stored)
}

func TestClearGuest(t *testing.T) {
	store := kvstore.NewMemoryStore()
	r, err := NewResolver(&fakeSessions{}, store, nil)
	require.NoError(t, err)

	_, err = r.CreateGuest()
	require.NoError(t, err)
	require.NoError(t, r.ClearGuest())

	_, ok := store.Get(StorageKeyGuestID)
	assert.False(t, ok)
	_, ok = store.Get(StorageKeyGuestUser)
	assert.False(t, ok)
	assert.Equal(t, None, r.Resolve(context.Background()).Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "guest", Guest.String())
	assert.Equal(t, "authenticated", Authenticated.String())
}
