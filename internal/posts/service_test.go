package posts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/identity"
)

// mockBackend records calls and returns canned rows or errors.
type mockBackend struct {
	rows      []backend.Row
	selectErr error
	insertErr error
	updateErr error
	deleteErr error
	guestErr  error

	callOrder   []string
	guestIDs    []string
	inserted    []backend.Row
	updatedIDs  []string
	updatedRows []backend.Row
	deletedIDs  []string
	nextID      string
	nextCreated time.Time
	updateNoRow bool
}

func (m *mockBackend) SelectPosts(ctx context.Context) ([]backend.Row, error) {
	m.callOrder = append(m.callOrder, "select")
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	return m.rows, nil
}

func (m *mockBackend) InsertPost(ctx context.Context, row backend.Row) (*backend.Row, error) {
	m.callOrder = append(m.callOrder, "insert")
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.inserted = append(m.inserted, row)
	created := row
	created.ID = m.nextID
	created.CreatedAt = m.nextCreated
	return &created, nil
}

func (m *mockBackend) UpdatePost(ctx context.Context, id string, row backend.Row) (*backend.Row, error) {
	m.callOrder = append(m.callOrder, "update")
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if m.updateNoRow {
		return nil, apperr.New(apperr.KindWrite, "no row returned from update")
	}
	m.updatedIDs = append(m.updatedIDs, id)
	m.updatedRows = append(m.updatedRows, row)
	updated := row
	updated.ID = id
	return &updated, nil
}

func (m *mockBackend) DeletePost(ctx context.Context, id string) error {
	m.callOrder = append(m.callOrder, "delete")
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *mockBackend) SetGuestContext(ctx context.Context, guestID string) error {
	m.callOrder = append(m.callOrder, "guest_context")
	if m.guestErr != nil {
		return m.guestErr
	}
	m.guestIDs = append(m.guestIDs, guestID)
	return nil
}

var (
	guestViewer = identity.User{Kind: identity.Guest, ID: "g1"}
	authViewer  = identity.User{Kind: identity.Authenticated, ID: "u1", Email: "a@b.co"}
	noneViewer  = identity.User{Kind: identity.None}
)

func newTestService(t *testing.T, m *mockBackend) Service {
	t.Helper()
	svc, err := NewService(m, nil)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresBackend(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend client is required")
}

func TestCreate_GuestStampsOwnership(t *testing.T) {
	m := &mockBackend{nextID: "p1", nextCreated: time.Now()}
	svc := newTestService(t, m)

	post, err := svc.Create(context.Background(), guestViewer, Draft{Title: "Hi", Body: "there"})
	require.NoError(t, err)

	assert.Equal(t, "g1", post.OwnerID)
	assert.True(t, post.IsGuestOwned)
	assert.Equal(t, "p1", post.ID)
	assert.False(t, post.CreatedAt.IsZero())

	// The guest context must be set before the insert is issued.
	assert.Equal(t, []string{"guest_context", "insert"}, m.callOrder)
	assert.Equal(t, []string{"g1"}, m.guestIDs)
}

func TestCreate_AuthenticatedStampsOwnership(t *testing.T) {
	m := &mockBackend{nextID: "p2", nextCreated: time.Now()}
	svc := newTestService(t, m)

	post, err := svc.Create(context.Background(), authViewer, Draft{Title: "Hi", Body: "there"})
	require.NoError(t, err)

	assert.Equal(t, "u1", post.OwnerID)
	assert.False(t, post.IsGuestOwned)
	// No guest side-channel for authenticated viewers.
	assert.Equal(t, []string{"insert"}, m.callOrder)
}

func TestCreate_InvalidDraftIssuesNoCall(t *testing.T) {
	m := &mockBackend{}
	svc := newTestService(t, m)

	tests := []struct {
		name  string
		draft Draft
	}{
		{"empty title", Draft{Body: "b"}},
		{"empty body", Draft{Title: "t"}},
		{"title too long", Draft{Title: string(make([]byte, 101)), Body: "b"}},
		{"body too long", Draft{Title: "t", Body: string(make([]byte, 501))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), guestViewer, tt.draft)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Empty(t, m.callOrder)
}

func TestDraftValidate_CountsCharactersNotBytes(t *testing.T) {
	// 60 two-byte characters: 120 bytes, but well within the 100-character bound.
	draft := Draft{Title: strings.Repeat("é", 60), Body: strings.Repeat("é", 400)}
	require.NoError(t, draft.Validate())

	// Exactly at the bounds is still valid.
	draft = Draft{Title: strings.Repeat("é", MaxTitleLength), Body: strings.Repeat("é", MaxBodyLength)}
	require.NoError(t, draft.Validate())

	// One character over is not.
	err := Draft{Title: strings.Repeat("é", MaxTitleLength+1), Body: "b"}.Validate()
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = Draft{Title: "t", Body: strings.Repeat("é", MaxBodyLength+1)}.Validate()
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreate_AuthRequiredPropagates(t *testing.T) {
	m := &mockBackend{insertErr: apperr.New(apperr.KindAuthRequired, "JWT expired")}
	svc := newTestService(t, m)

	_, err := svc.Create(context.Background(), noneViewer, Draft{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthRequired, apperr.KindOf(err))
}

func TestCreate_GuestContextFailureAbortsInsert(t *testing.T) {
	m := &mockBackend{guestErr: apperr.New(apperr.KindWrite, "rpc failed")}
	svc := newTestService(t, m)

	_, err := svc.Create(context.Background(), guestViewer, Draft{Title: "t", Body: "b"})
	require.Error(t, err)
	// The insert must not run under the wrong authorization context.
	assert.Equal(t, []string{"guest_context"}, m.callOrder)
}

func TestUpdate_MissingIDIssuesNoCall(t *testing.T) {
	m := &mockBackend{}
	svc := newTestService(t, m)

	_, err := svc.Update(context.Background(), guestViewer, Post{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Post ID is required for update")
	assert.Empty(t, m.callOrder)
}

func TestUpdate_PreservesOwnership(t *testing.T) {
	m := &mockBackend{}
	svc := newTestService(t, m)

	post := Post{
		ID: "p1", Title: "new title", Body: "new body",
		OwnerID: "g1", IsGuestOwned: true,
		CreatedAt: time.Now(),
	}
	updated, err := svc.Update(context.Background(), guestViewer, post)
	require.NoError(t, err)

	assert.Equal(t, "g1", updated.OwnerID)
	require.Len(t, m.updatedRows, 1)
	assert.Equal(t, "g1", m.updatedRows[0].UserID)
	assert.Equal(t, []string{"p1"}, m.updatedIDs)
}

func TestUpdate_NoRowIsWriteError(t *testing.T) {
	m := &mockBackend{updateNoRow: true}
	svc := newTestService(t, m)

	_, err := svc.Update(context.Background(), authViewer, Post{ID: "p1", Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindWrite, apperr.KindOf(err))
}

func TestDelete(t *testing.T) {
	m := &mockBackend{}
	svc := newTestService(t, m)

	require.NoError(t, svc.Delete(context.Background(), authViewer, "p1"))
	assert.Equal(t, []string{"p1"}, m.deletedIDs)
}

func TestDelete_GuestSetsContextFirst(t *testing.T) {
	m := &mockBackend{}
	svc := newTestService(t, m)

	require.NoError(t, svc.Delete(context.Background(), guestViewer, "p1"))
	assert.Equal(t, []string{"guest_context", "delete"}, m.callOrder)
}

func TestList_GuestSeesOnlyOwnPosts(t *testing.T) {
	m := &mockBackend{rows: []backend.Row{
		{ID: "p3", Title: "theirs", UserID: "u1", IsAnonymous: false},
		{ID: "p2", Title: "mine", UserID: "g1", IsAnonymous: true},
		{ID: "p1", Title: "other guest", UserID: "g2", IsAnonymous: true},
	}}
	svc := newTestService(t, m)

	result, err := svc.List(context.Background(), guestViewer)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "p2", result[0].ID)
	assert.Equal(t, []string{"guest_context", "select"}, m.callOrder)
}

func TestList_AuthenticatedSeesAllPosts(t *testing.T) {
	m := &mockBackend{rows: []backend.Row{
		{ID: "p2", UserID: "u1"},
		{ID: "p1", UserID: "g1", IsAnonymous: true},
	}}
	svc := newTestService(t, m)

	result, err := svc.List(context.Background(), authViewer)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	// Service order (created_at desc) is passed through untouched.
	assert.Equal(t, "p2", result[0].ID)
	assert.Equal(t, "p1", result[1].ID)
}

func TestList_FetchErrorPropagates(t *testing.T) {
	m := &mockBackend{selectErr: apperr.New(apperr.KindFetch, "connection refused")}
	svc := newTestService(t, m)

	_, err := svc.List(context.Background(), authViewer)
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, apperr.KindOf(err))
}

func TestEditableBy(t *testing.T) {
	post := Post{ID: "p1", OwnerID: "g1"}

	assert.True(t, post.EditableBy(guestViewer))
	assert.False(t, post.EditableBy(authViewer))
	assert.False(t, post.EditableBy(noneViewer))
}
