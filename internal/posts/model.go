// Package posts implements the post repository client and its list cache.
//
// Every operation takes the resolved viewer identity: writes stamp ownership
// from it, and guest viewers get the service's guest authorization context
// set before any call is issued.
package posts

import (
	"time"
	"unicode/utf8"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/identity"
)

// Field length bounds enforced before any write is attempted.
const (
	MaxTitleLength = 100
	MaxBodyLength  = 500
)

// Post is a short text post owned by an account or guest identity.
type Post struct {
	// ID is server-assigned and absent until the first write.
	ID string `json:"id,omitempty"`

	Title string `json:"title"`
	Body  string `json:"body"`

	// OwnerID is stamped from the resolved identity at creation and is
	// immutable afterwards; it is never caller-supplied.
	OwnerID string `json:"user_id"`

	// IsGuestOwned records whether the owning identity was a guest at
	// write time.
	IsGuestOwned bool `json:"is_anonymous"`

	// CreatedAt is server-assigned.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// EditableBy reports whether the viewer may edit or delete the post: true
// iff the viewer's resolved identity id equals the post's owner id.
func (p Post) EditableBy(viewer identity.User) bool {
	return viewer.ID != "" && viewer.ID == p.OwnerID
}

// Draft is the user-editable part of a post.
type Draft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Validate checks the draft against the field bounds.
func (d Draft) Validate() error {
	if d.Title == "" {
		return apperr.New(apperr.KindValidation, "title is required")
	}
	if utf8.RuneCountInString(d.Title) > MaxTitleLength {
		return apperr.Newf(apperr.KindValidation, "title must be at most %d characters", MaxTitleLength)
	}
	if d.Body == "" {
		return apperr.New(apperr.KindValidation, "body is required")
	}
	if utf8.RuneCountInString(d.Body) > MaxBodyLength {
		return apperr.Newf(apperr.KindValidation, "body must be at most %d characters", MaxBodyLength)
	}
	return nil
}

// fromRow converts a service row into a Post.
func fromRow(row backend.Row) Post {
	return Post{
		ID:           row.ID,
		Title:        row.Title,
		Body:         row.Body,
		OwnerID:      row.UserID,
		IsGuestOwned: row.IsAnonymous,
		CreatedAt:    row.CreatedAt,
	}
}

// toRow converts a Post into a service row.
func toRow(p Post) backend.Row {
	return backend.Row{
		ID:          p.ID,
		Title:       p.Title,
		Body:        p.Body,
		UserID:      p.OwnerID,
		IsAnonymous: p.IsGuestOwned,
		CreatedAt:   p.CreatedAt,
	}
}
