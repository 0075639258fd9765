// Package admin exposes operator actions on stored identities.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"visitorid/internal/identity/models"
	dErrors "visitorid/pkg/domain-errors"
	"visitorid/pkg/platform/sentinel"
	"visitorid/pkg/requestcontext"
)

// IdentityStore is the persistence the admin service needs.
type IdentityStore interface {
	FindByID(ctx context.Context, id int64) (*models.Identity, error)
	SoftDelete(ctx context.Context, now time.Time, ids ...int64) (int, error)
}

type Service struct {
	store  IdentityStore
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store IdentityStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the identity, including soft-deleted ones.
func (s *Service) Get(ctx context.Context, id int64) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// Delete soft-deletes the identity so it is never resolved again. Deleting an
// unknown or already deleted identity is not found.
func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.store.SoftDelete(ctx, requestcontext.Now(ctx), id)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete identity")
	}
	if n == 0 {
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	s.logger.InfoContext(ctx, "identity soft-deleted",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", id,
	)
	return nil
}
