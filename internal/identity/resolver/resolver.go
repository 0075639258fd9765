// Package resolver decides which stored identity a visitor is.
//
// The exact fingerprint selects an anchor identity, created on first sighting.
// When typing samples are supplied, every identity sharing the weak
// fingerprint is verified against them concurrently. The biometric result
// overrides the anchor only when exactly one candidate verifies cleanly; every
// error, enroll anomaly or ambiguity falls back to the anchor.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"visitorid/internal/audit"
	"visitorid/internal/identity/metrics"
	"visitorid/internal/identity/models"
	dErrors "visitorid/pkg/domain-errors"
	"visitorid/pkg/requestcontext"
)

// ErrUnrecognizedAction is returned when the scorer reports an action outside
// enroll, verify and verify;enroll. It is the only scorer condition that fails
// the request.
var ErrUnrecognizedAction = errors.New("unrecognized scorer action")

// Store is the identity persistence the resolver needs.
type Store interface {
	Create(ctx context.Context, primaryID, weakID, scorerKey string, now time.Time) (int64, error)
	FindByID(ctx context.Context, id int64) (*models.Identity, error)
	FindExact(ctx context.Context, primaryID string) (models.ExactMatch, error)
	FindWeak(ctx context.Context, weakID string) ([]*models.Identity, error)
}

// VerificationClient asks the scorer about typing samples. Failures are
// reported as Error outcomes, never as Go errors.
type VerificationClient interface {
	Verify(ctx context.Context, candidate *models.Identity, samples []string) models.Outcome
	Auto(ctx context.Context, primaryID string, samples []string) models.Outcome
}

// AuditPublisher receives one event per resolution.
type AuditPublisher interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Service resolves visitors to identity ids.
type Service struct {
	store            Store
	verifier         VerificationClient
	logger           *slog.Logger
	metrics          *metrics.Metrics
	auditPublisher   AuditPublisher
	defaultScorerKey string
	tracer           trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

// WithDefaultScorerKey sets the scorer credential stamped on new identities.
func WithDefaultScorerKey(key string) Option {
	return func(s *Service) {
		s.defaultScorerKey = key
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, verifier VerificationClient, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if verifier == nil {
		return nil, errors.New("verification client is required")
	}
	s := &Service{
		store:    store,
		verifier: verifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("visitorid/resolver"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// resolution accumulates what happened during one Resolve call for logging,
// metrics and the audit event.
type resolution struct {
	primaryID  string
	weakID     string
	anchor     *models.Identity
	created    bool
	decision   audit.Decision
	resolvedID int64
	candidates []int64
	verified   []int64
}

// Resolve returns the identity id for a visitor. Only store failures and a
// scorer contract violation are returned as errors.
func (s *Service) Resolve(ctx context.Context, primaryID, weakID string, samples []string) (int64, error) {
	if primaryID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "fingerprint_id is required")
	}
	if weakID == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "weak_fingerprint_id is required")
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(attribute.Int("samples", len(samples))),
	)
	defer span.End()

	res := &resolution{primaryID: primaryID, weakID: weakID}
	err := s.resolve(ctx, res, samples)
	s.metrics.ObserveResolveLatency(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		if res.decision != "" {
			s.record(ctx, res)
		}
		return 0, err
	}

	span.SetAttributes(
		attribute.String("decision", string(res.decision)),
		attribute.Int64("anchor_id", res.anchor.ID),
		attribute.Int64("resolved_id", res.resolvedID),
		attribute.Int("candidates", len(res.candidates)),
	)
	s.record(ctx, res)
	return res.resolvedID, nil
}

func (s *Service) resolve(ctx context.Context, res *resolution, samples []string) error {
	anchor, created, err := s.anchorIdentity(ctx, res.primaryID, res.weakID)
	if err != nil {
		return err
	}
	res.anchor = anchor
	res.created = created

	if len(samples) == 0 {
		res.settle(audit.DecisionFastPath, anchor.ID)
		return nil
	}

	candidates, err := s.store.FindWeak(ctx, res.weakID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to find weak candidates")
	}
	res.candidates = identityIDs(candidates)

	if !containsIdentity(candidates, anchor.ID) {
		s.logger.ErrorContext(ctx, "identifiers conflict: anchor missing from its weak set",
			"request_id", requestcontext.RequestID(ctx),
			"anchor_id", anchor.ID,
			"weak_fingerprint_id", res.weakID,
			"candidates", res.candidates,
		)
		res.settle(audit.DecisionWeakSetInconsistent, anchor.ID)
		return nil
	}

	outcomes, auto := s.verifyAll(ctx, anchor, candidates, samples)
	if auto.IsError() {
		s.logger.ErrorContext(ctx, "auto verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"anchor_id", anchor.ID,
			"failure", failureString(auto),
		)
	} else {
		s.logger.DebugContext(ctx, "auto verification",
			"request_id", requestcontext.RequestID(ctx),
			"anchor_id", anchor.ID,
			"action", string(auto.Verification.Action),
			"match", auto.Verification.Match,
		)
	}

	verified, decision, err := s.classify(ctx, res, candidates, outcomes)
	if err != nil {
		return err
	}
	if decision != "" {
		res.settle(decision, anchor.ID)
		return nil
	}
	res.verified = verified

	s.logger.DebugContext(ctx, "weak candidates verified",
		"request_id", requestcontext.RequestID(ctx),
		"verified", len(verified),
		"candidates", len(candidates),
	)

	return s.decide(ctx, res)
}

// anchorIdentity returns the identity for the exact fingerprint, creating it on
// first sighting. An ambiguous match counts as absent.
func (s *Service) anchorIdentity(ctx context.Context, primaryID, weakID string) (*models.Identity, bool, error) {
	match, err := s.store.FindExact(ctx, primaryID)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find identity")
	}
	if found, ok := match.Found(); ok {
		return found, false, nil
	}
	if match.Kind == models.MatchAmbiguous {
		s.logger.WarnContext(ctx, "exact fingerprint matches several identities, treating as new",
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	id, err := s.store.Create(ctx, primaryID, weakID, s.defaultScorerKey, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create identity")
	}
	s.metrics.IncrementIdentitiesCreated()

	anchor, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load created identity")
	}
	return anchor, true, nil
}

// verifyAll issues one verify call per candidate and one auto call for the
// anchor, concurrently, and waits for all of them. outcomes[i] belongs to
// candidates[i].
func (s *Service) verifyAll(ctx context.Context, anchor *models.Identity, candidates []*models.Identity, samples []string) ([]models.Outcome, models.Outcome) {
	outcomes := make([]models.Outcome, len(candidates))
	var auto models.Outcome

	var g errgroup.Group
	for i, candidate := range candidates {
		g.Go(func() error {
			outcomes[i] = s.verifier.Verify(ctx, candidate, samples)
			return nil
		})
	}
	g.Go(func() error {
		auto = s.verifier.Auto(ctx, anchor.PrimaryID, samples)
		return nil
	})
	_ = g.Wait()

	return outcomes, auto
}

// classify walks outcomes in candidate order. A non-empty decision means the
// batch was aborted and the anchor wins.
func (s *Service) classify(ctx context.Context, res *resolution, candidates []*models.Identity, outcomes []models.Outcome) ([]int64, audit.Decision, error) {
	requestID := requestcontext.RequestID(ctx)
	var verified []int64

	for i, outcome := range outcomes {
		candidate := candidates[i]

		if outcome.IsError() {
			s.logger.ErrorContext(ctx, "scorer error while verifying candidate",
				"request_id", requestID,
				"candidate_id", candidate.ID,
				"failure", failureString(outcome),
			)
			return nil, audit.DecisionScorerError, nil
		}

		v := outcome.Verification
		if !v.Action.Known() {
			res.settle(audit.DecisionContractViolation, 0)
			s.logger.ErrorContext(ctx, "scorer returned unrecognized action",
				"request_id", requestID,
				"candidate_id", candidate.ID,
				"action", string(v.Action),
			)
			return nil, "", dErrors.Wrap(
				fmt.Errorf("%w %q for candidate %d", ErrUnrecognizedAction, v.Action, candidate.ID),
				dErrors.CodeInternal, "scorer contract violation",
			)
		}

		switch v.Action {
		case models.ActionEnroll:
			s.logger.ErrorContext(ctx, "scorer enrolled during verification, auto-enroll must be off",
				"request_id", requestID,
				"candidate_id", candidate.ID,
				"action", string(v.Action),
			)
			return nil, audit.DecisionEnrollAnomaly, nil
		case models.ActionVerifyAndEnroll:
			s.logger.WarnContext(ctx, "scorer enrolled during verification, auto-enroll must be off",
				"request_id", requestID,
				"candidate_id", candidate.ID,
				"action", string(v.Action),
			)
		}

		if v.Match {
			verified = append(verified, candidate.ID)
		}
	}
	return verified, "", nil
}

func (s *Service) decide(ctx context.Context, res *resolution) error {
	switch len(res.verified) {
	case 0:
		// No biometric corroboration: re-read the exact match instead of
		// trusting the anchor loaded before verification.
		match, err := s.store.FindExact(ctx, res.primaryID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-resolve identity")
		}
		resolved := res.anchor.ID
		if found, ok := match.Found(); ok {
			resolved = found.ID
		}
		res.settle(audit.DecisionNoMatch, resolved)
		return nil

	case 1:
		winner, err := s.store.FindByID(ctx, res.verified[0])
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verified identity")
		}
		s.logger.DebugContext(ctx, "typing verification resolved a unique identity",
			"request_id", requestcontext.RequestID(ctx),
			"resolved_id", winner.ID,
			"anchor_id", res.anchor.ID,
			"agrees_with_anchor", winner.ID == res.anchor.ID,
		)
		res.settle(audit.DecisionUniqueMatch, winner.ID)
		return nil

	default:
		s.logger.DebugContext(ctx, "typing verification ambiguous, keeping anchor",
			"request_id", requestcontext.RequestID(ctx),
			"anchor_id", res.anchor.ID,
			"verified", res.verified,
		)
		res.settle(audit.DecisionAmbiguous, res.anchor.ID)
		return nil
	}
}

func (r *resolution) settle(decision audit.Decision, resolvedID int64) {
	r.decision = decision
	r.resolvedID = resolvedID
}

// record increments the decision counter and emits the audit event. Publisher
// failures are logged only.
func (s *Service) record(ctx context.Context, res *resolution) {
	s.metrics.IncrementResolution(string(res.decision))
	if s.auditPublisher == nil {
		return
	}

	event := audit.Event{
		Timestamp:  requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		ClientIP:   requestcontext.ClientIP(ctx),
		PrimaryID:  res.primaryID,
		WeakID:     res.weakID,
		ResolvedID: res.resolvedID,
		Decision:   res.decision,
		Candidates: res.candidates,
		Verified:   res.verified,
		Created:    res.created,
	}
	if res.anchor != nil {
		event.AnchorID = res.anchor.ID
	}
	if err := s.auditPublisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish resolution audit event",
			"request_id", event.RequestID,
			"decision", string(event.Decision),
			"error", err,
		)
	}
}

func identityIDs(identities []*models.Identity) []int64 {
	ids := make([]int64, len(identities))
	for i, identity := range identities {
		ids[i] = identity.ID
	}
	return ids
}

func containsIdentity(identities []*models.Identity, id int64) bool {
	for _, identity := range identities {
		if identity.ID == id {
			return true
		}
	}
	return false
}

func failureString(o models.Outcome) string {
	if o.Failure == nil {
		return "malformed outcome"
	}
	return o.Failure.String()
}
