// internal/posts/service.go
package posts

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
	"github.com/vaibhavsaha/guestnotes/internal/backend"
	"github.com/vaibhavsaha/guestnotes/internal/identity"
)

const instrumentationName = "github.com/vaibhavsaha/guestnotes/internal/posts"

// Backend is the slice of the service adapter the repository uses.
type Backend interface {
	SelectPosts(ctx context.Context) ([]backend.Row, error)
	InsertPost(ctx context.Context, row backend.Row) (*backend.Row, error)
	UpdatePost(ctx context.Context, id string, row backend.Row) (*backend.Row, error)
	DeletePost(ctx context.Context, id string) error
	SetGuestContext(ctx context.Context, guestID string) error
}

// Service provides post CRUD scoped to a resolved identity.
type Service interface {
	// List fetches all posts visible to the viewer, most recent first.
	// Guest viewers see only their own posts; authenticated viewers see
	// every post.
	List(ctx context.Context, viewer identity.User) ([]Post, error)

	// Create persists a draft with ownership stamped from the viewer and
	// returns the row with server-assigned id and created_at.
	Create(ctx context.Context, viewer identity.User, draft Draft) (*Post, error)

	// Update rewrites the mutable fields of an existing post, preserving
	// its ownership. The post must carry an id.
	Update(ctx context.Context, viewer identity.User, post Post) (*Post, error)

	// Delete removes the post by id. Ownership is enforced by the
	// service's row-level access policy.
	Delete(ctx context.Context, viewer identity.User, id string) error
}

// service implements the Service interface.
type service struct {
	backend Backend
	logger  *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	listCounter     metric.Int64Counter
	mutationCounter metric.Int64Counter
}

// NewService creates a post repository client.
func NewService(b Backend, logger *zap.Logger) (Service, error) {
	if b == nil {
		return nil, errors.New("backend client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		backend: b,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.listCounter, err = s.meter.Int64Counter(
		"guestnotes.posts.lists_total",
		metric.WithDescription("Total number of post list fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		s.logger.Warn("failed to create list counter", zap.Error(err))
	}

	s.mutationCounter, err = s.meter.Int64Counter(
		"guestnotes.posts.mutations_total",
		metric.WithDescription("Total number of post mutations"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create mutation counter", zap.Error(err))
	}
}

// ensureGuestContext sets the acting guest identity with the service before
// a dependent call. The call is awaited: issuing the dependent operation
// before it completes would execute under the wrong authorization context.
func (s *service) ensureGuestContext(ctx context.Context, viewer identity.User) error {
	if !viewer.IsGuest() {
		return nil
	}
	if err := s.backend.SetGuestContext(ctx, viewer.ID); err != nil {
		return err
	}
	return nil
}

func (s *service) List(ctx context.Context, viewer identity.User) ([]Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.list")
	defer span.End()
	span.SetAttributes(attribute.String("viewer_kind", viewer.Kind.String()))

	if err := s.ensureGuestContext(ctx, viewer); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rows, err := s.backend.SelectPosts(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to fetch posts", zap.Error(err))
		return nil, err
	}

	result := make([]Post, 0, len(rows))
	for _, row := range rows {
		post := fromRow(row)
		// Guests see only their own posts; authenticated viewers see all.
		if viewer.IsGuest() && post.OwnerID != viewer.ID {
			continue
		}
		result = append(result, post)
	}

	if s.listCounter != nil {
		s.listCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int("count", len(result)))
	return result, nil
}

func (s *service) Create(ctx context.Context, viewer identity.User, draft Draft) (*Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.create")
	defer span.End()
	span.SetAttributes(attribute.String("viewer_kind", viewer.Kind.String()))

	if err := draft.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.ensureGuestContext(ctx, viewer); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	row := backend.Row{
		Title:       draft.Title,
		Body:        draft.Body,
		UserID:      viewer.ID,
		IsAnonymous: viewer.IsGuest(),
	}

	created, err := s.backend.InsertPost(ctx, row)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if apperr.IsKind(err, apperr.KindAuthRequired) {
			s.logger.Info("create rejected for missing credentials",
				zap.String("viewer_kind", viewer.Kind.String()))
		} else {
			s.logger.Error("failed to create post", zap.Error(err))
		}
		return nil, err
	}

	s.countMutation(ctx, "create")
	post := fromRow(*created)
	s.logger.Info("created post",
		zap.String("post_id", post.ID),
		zap.Bool("guest_owned", post.IsGuestOwned),
	)
	return &post, nil
}

func (s *service) Update(ctx context.Context, viewer identity.User, post Post) (*Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.update")
	defer span.End()

	// Checked before any network call, including the guest side-channel.
	if post.ID == "" {
		err := apperr.New(apperr.KindValidation, "Post ID is required for update")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := (Draft{Title: post.Title, Body: post.Body}).Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("post_id", post.ID))

	if err := s.ensureGuestContext(ctx, viewer); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Ownership is preserved: the update carries the post's existing owner,
	// never a new one.
	updated, err := s.backend.UpdatePost(ctx, post.ID, toRow(post))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to update post", zap.String("post_id", post.ID), zap.Error(err))
		return nil, err
	}

	s.countMutation(ctx, "update")
	result := fromRow(*updated)
	return &result, nil
}

func (s *service) Delete(ctx context.Context, viewer identity.User, id string) error {
	ctx, span := s.tracer.Start(ctx, "posts.delete")
	defer span.End()
	span.SetAttributes(attribute.String("post_id", id))

	if err := s.ensureGuestContext(ctx, viewer); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := s.backend.DeletePost(ctx, id); err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("failed to delete post", zap.String("post_id", id), zap.Error(err))
		return err
	}

	s.countMutation(ctx, "delete")
	return nil
}

func (s *service) countMutation(ctx context.Context, op string) {
	if s.mutationCounter != nil {
		s.mutationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
