package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"visitorid/internal/identity/models"
	"visitorid/internal/identity/store"
	"visitorid/pkg/platform/sentinel"
)

// identityStore is the behaviour every backend must share.
type identityStore interface {
	Create(ctx context.Context, primaryID, weakID, scorerKey string, now time.Time) (int64, error)
	FindByID(ctx context.Context, id int64) (*models.Identity, error)
	FindExact(ctx context.Context, primaryID string) (models.ExactMatch, error)
	FindWeak(ctx context.Context, weakID string) ([]*models.Identity, error)
	SoftDelete(ctx context.Context, now time.Time, ids ...int64) (int, error)
}

var (
	_ identityStore = (*store.InMemory)(nil)
	_ identityStore = (*store.PostgresStore)(nil)
	_ identityStore = (*store.RedisStore)(nil)
)

// contractSuite runs the same behavioural checks against any backend. Embedding
// suites set store in SetupTest.
type contractSuite struct {
	suite.Suite
	ctx   context.Context
	store identityStore
	now   time.Time
}

func (s *contractSuite) unique(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func (s *contractSuite) TestCreateAndFindByID() {
	primary := s.unique("fp")
	weak := s.unique("weak")

	id, err := s.store.Create(s.ctx, primary, weak, "default-key", s.now)
	s.Require().NoError(err)
	s.NotZero(id)

	found, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(id, found.ID)
	s.Equal(primary, found.PrimaryID)
	s.Equal(weak, found.WeakID)
	s.Equal("default-key", found.ScorerKey)
	s.True(s.now.Equal(found.CreatedAt), "created_at round-trips")
	s.Nil(found.DeletedAt)
}

func (s *contractSuite) TestCreateAssignsDistinctIDs() {
	primary := s.unique("fp")
	weak := s.unique("weak")

	first, err := s.store.Create(s.ctx, primary, weak, "k", s.now)
	s.Require().NoError(err)
	second, err := s.store.Create(s.ctx, primary, weak, "k", s.now)
	s.Require().NoError(err)
	s.NotEqual(first, second, "create never deduplicates")
}

func (s *contractSuite) TestCreateRejectsEmptyIdentifiers() {
	_, err := s.store.Create(s.ctx, "", s.unique("weak"), "k", s.now)
	s.Error(err)
	_, err = s.store.Create(s.ctx, s.unique("fp"), "", "k", s.now)
	s.Error(err)
}

func (s *contractSuite) TestFindByIDNotFound() {
	_, err := s.store.FindByID(s.ctx, 987654321)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestFindExact() {
	s.Run("none", func() {
		match, err := s.store.FindExact(s.ctx, s.unique("missing"))
		s.Require().NoError(err)
		s.Equal(models.MatchNone, match.Kind)
	})

	s.Run("unique", func() {
		primary := s.unique("fp")
		id, err := s.store.Create(s.ctx, primary, s.unique("weak"), "k", s.now)
		s.Require().NoError(err)

		match, err := s.store.FindExact(s.ctx, primary)
		s.Require().NoError(err)
		found, ok := match.Found()
		s.Require().True(ok)
		s.Equal(id, found.ID)
	})

	s.Run("multiple rows collapse to ambiguous", func() {
		primary := s.unique("fp")
		_, err := s.store.Create(s.ctx, primary, s.unique("weak"), "k", s.now)
		s.Require().NoError(err)
		_, err = s.store.Create(s.ctx, primary, s.unique("weak"), "k", s.now)
		s.Require().NoError(err)

		match, err := s.store.FindExact(s.ctx, primary)
		s.Require().NoError(err)
		s.Equal(models.MatchAmbiguous, match.Kind)
		s.Nil(match.Identity)
	})
}

func (s *contractSuite) TestFindWeakOrderedByID() {
	weak := s.unique("weak")
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.store.Create(s.ctx, s.unique("fp"), weak, "k", s.now)
		s.Require().NoError(err)
		ids = append(ids, id)
	}
	_, err := s.store.Create(s.ctx, s.unique("fp"), s.unique("other"), "k", s.now)
	s.Require().NoError(err)

	found, err := s.store.FindWeak(s.ctx, weak)
	s.Require().NoError(err)
	s.Require().Len(found, 3)
	for i, identity := range found {
		s.Equal(ids[i], identity.ID)
	}

	empty, err := s.store.FindWeak(s.ctx, s.unique("nobody"))
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *contractSuite) TestSoftDeleteHidesFromLookups() {
	primary := s.unique("fp")
	weak := s.unique("weak")
	id, err := s.store.Create(s.ctx, primary, weak, "k", s.now)
	s.Require().NoError(err)
	other, err := s.store.Create(s.ctx, s.unique("fp"), weak, "k", s.now)
	s.Require().NoError(err)

	deletedAt := s.now.Add(time.Hour)
	n, err := s.store.SoftDelete(s.ctx, deletedAt, id, 987654321)
	s.Require().NoError(err)
	s.Equal(1, n, "unknown ids are ignored")

	n, err = s.store.SoftDelete(s.ctx, deletedAt, id)
	s.Require().NoError(err)
	s.Equal(0, n, "already deleted identities are not stamped twice")

	match, err := s.store.FindExact(s.ctx, primary)
	s.Require().NoError(err)
	s.Equal(models.MatchNone, match.Kind)

	found, err := s.store.FindWeak(s.ctx, weak)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(other, found[0].ID)

	record, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err, "soft-deleted identities are never removed")
	s.Require().NotNil(record.DeletedAt)
	s.True(deletedAt.Equal(*record.DeletedAt))
}
