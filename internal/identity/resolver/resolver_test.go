package resolver

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"visitorid/internal/audit"
	"visitorid/internal/identity/metrics"
	"visitorid/internal/identity/models"
	"visitorid/internal/identity/resolver/mocks"
	"visitorid/internal/identity/store"
	dErrors "visitorid/pkg/domain-errors"
	"visitorid/pkg/requestcontext"
)

// =============================================================================
// Resolver Test Suite
// =============================================================================
// The resolver runs against the real in-memory store; only the scorer and the
// audit sink are mocked.

type ResolverSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	verifier  *mocks.MockVerificationClient
	publisher *mocks.MockAuditPublisher
	store     *store.InMemory
	metrics   *metrics.Metrics
	logs      *bytes.Buffer
	service   *Service
	ctx       context.Context
	now       time.Time
	samples   []string
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockVerificationClient(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.store = store.NewInMemory()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}
	s.now = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), s.now), "req-1")
	s.samples = []string{"tp-1", "tp-2"}

	var err error
	s.service, err = New(s.store, s.verifier,
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.publisher),
		WithDefaultScorerKey("default-key"),
	)
	s.Require().NoError(err)

	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *ResolverSuite) TearDownTest() {
	s.ctrl.Finish()
}

// seed stores an identity and returns its id.
func (s *ResolverSuite) seed(primaryID, weakID string) int64 {
	id, err := s.store.Create(s.ctx, primaryID, weakID, "default-key", s.now)
	s.Require().NoError(err)
	return id
}

// expectVerifications answers verify calls per candidate id and the auto call
// for primaryID with a clean verify.
func (s *ResolverSuite) expectVerifications(primaryID string, outcomes map[int64]models.Outcome) {
	s.verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), s.samples).
		DoAndReturn(func(_ context.Context, candidate *models.Identity, _ []string) models.Outcome {
			outcome, ok := outcomes[candidate.ID]
			s.True(ok, "unexpected candidate %d", candidate.ID)
			return outcome
		}).
		Times(len(outcomes))
	s.verifier.EXPECT().
		Auto(gomock.Any(), primaryID, s.samples).
		Return(verified(0, models.ActionVerify, true))
}

func verified(candidateID int64, action models.Action, match bool) models.Outcome {
	return models.Verified(models.Verification{Match: match, Action: action, CandidateID: candidateID})
}

func (s *ResolverSuite) decisionCount(decision audit.Decision) float64 {
	return testutil.ToFloat64(s.metrics.Resolutions.WithLabelValues(string(decision)))
}

// =============================================================================
// Constructor and input validation
// =============================================================================

func (s *ResolverSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.verifier)
		s.ErrorContains(err, "identity store is required")
	})

	s.Run("nil verifier returns error", func() {
		_, err := New(s.store, nil)
		s.ErrorContains(err, "verification client is required")
	})

	s.Run("options are applied", func() {
		svc, err := New(s.store, s.verifier, WithDefaultScorerKey("k"), WithAuditPublisher(s.publisher))
		s.Require().NoError(err)
		s.Equal("k", svc.defaultScorerKey)
		s.Equal(s.publisher, svc.auditPublisher)
	})
}

func (s *ResolverSuite) TestRejectsMissingIdentifiers() {
	_, err := s.service.Resolve(s.ctx, "", "weak", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.Resolve(s.ctx, "fp", "", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

// =============================================================================
// Anchor resolution and fast path
// =============================================================================

func (s *ResolverSuite) TestIdempotentAnchorCreation() {
	first, err := s.service.Resolve(s.ctx, "fp-new", "weak-new", nil)
	s.Require().NoError(err)
	second, err := s.service.Resolve(s.ctx, "fp-new", "weak-new", nil)
	s.Require().NoError(err)

	s.Equal(first, second)
	all, err := s.store.FindWeak(s.ctx, "weak-new")
	s.Require().NoError(err)
	s.Len(all, 1, "exactly one identity is created")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.IdentitiesCreated))
}

func (s *ResolverSuite) TestNewIdentityCarriesDefaultScorerKeyAndRequestTime() {
	id, err := s.service.Resolve(s.ctx, "fp-new", "weak-new", nil)
	s.Require().NoError(err)

	identity, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("default-key", identity.ScorerKey)
	s.True(s.now.Equal(identity.CreatedAt))
}

func (s *ResolverSuite) TestFastPathNeverCallsVerifier() {
	anchor := s.seed("fp-a", "weak")
	s.seed("fp-b", "weak")

	// No verifier expectations: any call fails the test.
	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", nil)
	s.Require().NoError(err)
	s.Equal(anchor, id)
	s.Equal(1.0, s.decisionCount(audit.DecisionFastPath))
}

func (s *ResolverSuite) TestAmbiguousExactMatchCreatesNewAnchor() {
	first := s.seed("fp-dup", "weak")
	second := s.seed("fp-dup", "weak")

	id, err := s.service.Resolve(s.ctx, "fp-dup", "weak", nil)
	s.Require().NoError(err)
	s.NotEqual(first, id)
	s.NotEqual(second, id)
}

// =============================================================================
// Candidate expansion
// =============================================================================

func (s *ResolverSuite) TestWeakSetInconsistencyReturnsAnchorWithoutVerification() {
	anchor := s.seed("fp-a", "weak-1")
	s.seed("fp-b", "weak-2")

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak-2", s.samples)
	s.Require().NoError(err)
	s.Equal(anchor, id)
	s.Contains(s.logs.String(), "identifiers conflict")
	s.Contains(s.logs.String(), `"level":"ERROR"`)
	s.Equal(1.0, s.decisionCount(audit.DecisionWeakSetInconsistent))
}

// =============================================================================
// Classification and decision
// =============================================================================

func (s *ResolverSuite) TestUniqueVerifyWins() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	c := s.seed("fp-c", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, false),
		b: verified(b, models.ActionVerify, true),
		c: verified(c, models.ActionVerify, false),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(b, id, "the biometric result wins over the anchor")
	s.Equal(1.0, s.decisionCount(audit.DecisionUniqueMatch))
}

func (s *ResolverSuite) TestAmbiguityFallsBackToAnchor() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-b", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, true),
		b: verified(b, models.ActionVerify, true),
	})

	id, err := s.service.Resolve(s.ctx, "fp-b", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(b, id)
	s.Equal(1.0, s.decisionCount(audit.DecisionAmbiguous))
}

func (s *ResolverSuite) TestZeroVerifyReResolvesExactMatch() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, false),
		b: verified(b, models.ActionVerify, false),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(a, id)
	s.Equal(1.0, s.decisionCount(audit.DecisionNoMatch))
}

// TestZeroVerifyPrefersFreshExactMatch verifies the no-match branch trusts the
// exact lookup made after verification over the anchor loaded before it.
func (s *ResolverSuite) TestZeroVerifyPrefersFreshExactMatch() {
	anchor := &models.Identity{ID: 1, PrimaryID: "fp", WeakID: "weak", ScorerKey: "default-key"}
	other := &models.Identity{ID: 2, PrimaryID: "fp-2", WeakID: "weak", ScorerKey: "default-key"}
	replacement := &models.Identity{ID: 9, PrimaryID: "fp", WeakID: "weak-9", ScorerKey: "default-key"}

	cases := []struct {
		name     string
		relookup models.ExactMatch
		want     int64
	}{
		{name: "unique re-lookup wins", relookup: models.ExactMatchOf([]*models.Identity{replacement}), want: 9},
		{name: "no re-lookup keeps anchor", relookup: models.ExactMatchOf(nil), want: 1},
		{name: "ambiguous re-lookup keeps anchor", relookup: models.ExactMatchOf([]*models.Identity{anchor, replacement}), want: 1},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			mockStore := mocks.NewMockStore(s.ctrl)
			gomock.InOrder(
				mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(models.ExactMatchOf([]*models.Identity{anchor}), nil),
				mockStore.EXPECT().FindWeak(gomock.Any(), "weak").Return([]*models.Identity{anchor, other}, nil),
				mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(tc.relookup, nil),
			)
			s.expectVerifications("fp", map[int64]models.Outcome{
				1: verified(1, models.ActionVerify, false),
				2: verified(2, models.ActionVerify, false),
			})
			svc, err := New(mockStore, s.verifier)
			s.Require().NoError(err)

			id, err := svc.Resolve(s.ctx, "fp", "weak", s.samples)
			s.Require().NoError(err)
			s.Equal(tc.want, id)
		})
	}
}

// barrierVerifier holds every call until all expected calls have started, so
// a sequential caller times out instead of resolving.
type barrierVerifier struct {
	arrived  sync.WaitGroup
	released chan struct{}
	timeout  time.Duration
	timedOut atomic.Bool
	match    int64
}

func newBarrierVerifier(calls int, match int64) *barrierVerifier {
	b := &barrierVerifier{released: make(chan struct{}), timeout: 2 * time.Second, match: match}
	b.arrived.Add(calls)
	go func() {
		b.arrived.Wait()
		close(b.released)
	}()
	return b
}

func (b *barrierVerifier) await() bool {
	b.arrived.Done()
	select {
	case <-b.released:
		return true
	case <-time.After(b.timeout):
		b.timedOut.Store(true)
		return false
	}
}

func (b *barrierVerifier) Verify(_ context.Context, candidate *models.Identity, _ []string) models.Outcome {
	if !b.await() {
		return models.Failed("barrier_timeout", "verify calls were not concurrent", 0)
	}
	return verified(candidate.ID, models.ActionVerify, candidate.ID == b.match)
}

func (b *barrierVerifier) Auto(context.Context, string, []string) models.Outcome {
	if !b.await() {
		return models.Failed("barrier_timeout", "auto call was not concurrent", 0)
	}
	return verified(0, models.ActionVerify, false)
}

func (s *ResolverSuite) TestVerificationCallsRunConcurrently() {
	a := s.seed("fp-a", "weak")
	s.seed("fp-b", "weak")
	c := s.seed("fp-c", "weak")

	barrier := newBarrierVerifier(4, c)
	svc, err := New(s.store, barrier)
	s.Require().NoError(err)

	id, err := svc.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.False(barrier.timedOut.Load(), "three verify calls and one auto call must be in flight together")
	s.Equal(c, id)
	s.NotEqual(a, id)
}

func (s *ResolverSuite) TestErrorAbortsBatch() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	c := s.seed("fp-c", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, false),
		b: verified(b, models.ActionVerify, true),
		c: models.Failed("timeout", "scorer call timed out", 0),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(a, id, "one failed call aborts the whole batch")
	s.Equal(1.0, s.decisionCount(audit.DecisionScorerError))
}

func (s *ResolverSuite) TestEnrollActionAborts() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionEnroll, false),
		b: verified(b, models.ActionVerify, true),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(a, id)
	s.Equal(1.0, s.decisionCount(audit.DecisionEnrollAnomaly))
}

func (s *ResolverSuite) TestVerifyAndEnrollIsAcceptedWithWarning() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, false),
		b: verified(b, models.ActionVerifyAndEnroll, true),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(b, id)
	s.Contains(s.logs.String(), `"level":"WARN"`)
}

func (s *ResolverSuite) TestUnrecognizedActionIsFatal() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, true),
		b: verified(b, models.Action("save"), true),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Zero(id)
	s.ErrorIs(err, ErrUnrecognizedAction)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(1.0, s.decisionCount(audit.DecisionContractViolation))
}

func (s *ResolverSuite) TestMissingActionIsFatalEvenWithoutMatch() {
	a := s.seed("fp-a", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, "", false),
	})

	_, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.ErrorIs(err, ErrUnrecognizedAction)
}

func (s *ResolverSuite) TestFirstAbortInCandidateOrderDecides() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: models.Failed("bad_reply", "garbled", 0),
		b: verified(b, models.Action("save"), true),
	})

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err, "the earlier error outcome aborts before the contract violation")
	s.Equal(a, id)
}

func (s *ResolverSuite) TestAutoErrorIsOnlyLogged() {
	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), s.samples).
		DoAndReturn(func(_ context.Context, candidate *models.Identity, _ []string) models.Outcome {
			return verified(candidate.ID, models.ActionVerify, candidate.ID == b)
		}).Times(2)
	s.verifier.EXPECT().Auto(gomock.Any(), "fp-a", s.samples).
		Return(models.Failed("InvalidTypingPattern", "bad pattern", 33))

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(b, id)
	s.NotEqual(a, id)
	s.Contains(s.logs.String(), "auto verification failed")
}

func (s *ResolverSuite) TestCandidateSeesStoredScorerKey() {
	a, err := s.store.Create(s.ctx, "fp-a", "weak", "tenant-key", s.now)
	s.Require().NoError(err)
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), s.samples).
		DoAndReturn(func(_ context.Context, candidate *models.Identity, _ []string) models.Outcome {
			s.Equal("tenant-key", candidate.ScorerKey)
			return verified(candidate.ID, models.ActionVerify, true)
		})
	s.verifier.EXPECT().Auto(gomock.Any(), "fp-a", s.samples).Return(verified(0, models.ActionVerify, true))

	id, err := s.service.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err)
	s.Equal(a, id)
}

// =============================================================================
// Audit and failure propagation
// =============================================================================

func (s *ResolverSuite) TestAuditEventDescribesResolution() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockAuditPublisher(ctrl)
	svc, err := New(s.store, s.verifier, WithAuditPublisher(publisher), WithDefaultScorerKey("default-key"))
	s.Require().NoError(err)

	a := s.seed("fp-a", "weak")
	b := s.seed("fp-b", "weak")
	s.expectVerifications("fp-a", map[int64]models.Outcome{
		a: verified(a, models.ActionVerify, false),
		b: verified(b, models.ActionVerify, true),
	})

	var got audit.Event
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			got = event
			return errors.New("sink down")
		})

	id, err := svc.Resolve(s.ctx, "fp-a", "weak", s.samples)
	s.Require().NoError(err, "publisher failures never fail the request")
	s.Equal(b, id)
	s.Equal(audit.DecisionUniqueMatch, got.Decision)
	s.Equal("req-1", got.RequestID)
	s.Equal(a, got.AnchorID)
	s.Equal(b, got.ResolvedID)
	s.Equal([]int64{a, b}, got.Candidates)
	s.Equal([]int64{b}, got.Verified)
	s.True(s.now.Equal(got.Timestamp))
	s.False(got.Created)
}

func (s *ResolverSuite) TestStoreFailuresPropagate() {
	storeErr := errors.New("connection refused")
	identity := &models.Identity{ID: 1, PrimaryID: "fp", WeakID: "weak"}

	s.Run("exact lookup", func() {
		mockStore := mocks.NewMockStore(s.ctrl)
		mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(models.ExactMatch{}, storeErr)
		svc, err := New(mockStore, s.verifier)
		s.Require().NoError(err)

		_, err = svc.Resolve(s.ctx, "fp", "weak", nil)
		s.ErrorIs(err, storeErr)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("create", func() {
		mockStore := mocks.NewMockStore(s.ctrl)
		mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(models.ExactMatch{Kind: models.MatchNone}, nil)
		mockStore.EXPECT().Create(gomock.Any(), "fp", "weak", "", s.now).Return(int64(0), storeErr)
		svc, err := New(mockStore, s.verifier)
		s.Require().NoError(err)

		_, err = svc.Resolve(s.ctx, "fp", "weak", nil)
		s.ErrorIs(err, storeErr)
	})

	s.Run("weak lookup", func() {
		mockStore := mocks.NewMockStore(s.ctrl)
		mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(models.ExactMatchOf([]*models.Identity{identity}), nil)
		mockStore.EXPECT().FindWeak(gomock.Any(), "weak").Return(nil, storeErr)
		svc, err := New(mockStore, s.verifier)
		s.Require().NoError(err)

		_, err = svc.Resolve(s.ctx, "fp", "weak", s.samples)
		s.ErrorIs(err, storeErr)
	})

	s.Run("loading the verified identity", func() {
		other := &models.Identity{ID: 2, PrimaryID: "fp-2", WeakID: "weak"}
		mockStore := mocks.NewMockStore(s.ctrl)
		mockStore.EXPECT().FindExact(gomock.Any(), "fp").Return(models.ExactMatchOf([]*models.Identity{identity}), nil)
		mockStore.EXPECT().FindWeak(gomock.Any(), "weak").Return([]*models.Identity{identity, other}, nil)
		mockStore.EXPECT().FindByID(gomock.Any(), int64(2)).Return(nil, storeErr)
		s.expectVerifications("fp", map[int64]models.Outcome{
			1: verified(1, models.ActionVerify, false),
			2: verified(2, models.ActionVerify, true),
		})
		svc, err := New(mockStore, s.verifier)
		s.Require().NoError(err)

		_, err = svc.Resolve(s.ctx, "fp", "weak", s.samples)
		s.ErrorIs(err, storeErr)
	})
}
