package scorer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"visitorid/internal/identity/metrics"
	"visitorid/internal/identity/models"
	"visitorid/pkg/platform/circuit"
	"visitorid/pkg/requestcontext"
)

// Outcome names produced locally rather than by the scorer.
const (
	FailureDegraded   = "scorer_degraded"
	FailureTimeout    = "timeout"
	FailureUnknownKey = "unknown_scorer_key"
	FailureTransport  = "transport_error"
	FailureBadReply   = "bad_reply"
)

type api interface {
	Verify(ctx context.Context, key, user string, samples []string) (*VerifyReply, error)
	Auto(ctx context.Context, key, user string, samples []string, customField *string) (*AutoReply, error)
}

// Verifier turns scorer replies into outcomes. It never returns a Go error:
// every failure becomes an Error outcome.
type Verifier struct {
	api     api
	autoKey string
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type VerifierOption func(*Verifier)

func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) VerifierOption {
	return func(v *Verifier) {
		v.breaker = b
	}
}

// NewVerifier wraps client. autoKey is the credential used for auto calls,
// which are keyed by primary identifier rather than by a stored identity.
func NewVerifier(client api, autoKey string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		api:     client,
		autoKey: autoKey,
		breaker: circuit.New("scorer"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify asks the scorer whether samples match candidate's profile. The scorer
// user is the identity id; credentials follow the identity's scorer key.
func (v *Verifier) Verify(ctx context.Context, candidate *models.Identity, samples []string) models.Outcome {
	start := time.Now()
	reply, err := v.api.Verify(ctx, candidate.ScorerKey, strconv.FormatInt(candidate.ID, 10), samples)
	if err = v.guard(ctx, err); err != nil {
		outcome := failureOutcome(err)
		v.metrics.ObserveVerification("verify", outcomeLabel(outcome), time.Since(start))
		return outcome
	}

	outcome := models.Verified(models.Verification{
		Match:       reply.Result,
		Action:      models.Action(reply.Action),
		CandidateID: candidate.ID,
	})
	v.metrics.ObserveVerification("verify", outcomeLabel(outcome), time.Since(start))
	return outcome
}

// Auto runs the scorer's auto operation keyed by the primary identifier.
func (v *Verifier) Auto(ctx context.Context, primaryID string, samples []string) models.Outcome {
	start := time.Now()
	reply, err := v.api.Auto(ctx, v.autoKey, primaryID, samples, nil)
	if err = v.guard(ctx, err); err != nil {
		outcome := failureOutcome(err)
		v.metrics.ObserveVerification("auto", outcomeLabel(outcome), time.Since(start))
		return outcome
	}

	outcome := models.Verified(models.Verification{
		Match:          reply.Result,
		HighConfidence: reply.HighConfidence,
		Action:         models.Action(reply.Action),
	})
	v.metrics.ObserveVerification("auto", outcomeLabel(outcome), time.Since(start))
	return outcome
}

var errDegraded = newError(ErrorOutage, "circuit open", nil)

// guard feeds the call result to the breaker. While the circuit is open a
// successful reply is still discarded.
func (v *Verifier) guard(ctx context.Context, err error) error {
	var se *Error
	transient := err != nil && (!errors.As(err, &se) || se.Transient())

	if transient {
		useFallback, change := v.breaker.RecordFailure()
		v.logStateChange(ctx, change)
		if useFallback {
			return errDegraded
		}
		return err
	}

	usePrimary, change := v.breaker.RecordSuccess()
	v.logStateChange(ctx, change)
	if err != nil {
		return err
	}
	if !usePrimary {
		return errDegraded
	}
	return nil
}

func (v *Verifier) logStateChange(ctx context.Context, change circuit.StateChange) {
	switch {
	case change.Opened:
		v.metrics.SetCircuitOpen(v.breaker.Name(), true)
		v.logger.WarnContext(ctx, "scorer circuit opened",
			"request_id", requestcontext.RequestID(ctx),
			"breaker", v.breaker.Name(),
		)
	case change.Closed:
		v.metrics.SetCircuitOpen(v.breaker.Name(), false)
		v.logger.InfoContext(ctx, "scorer circuit closed",
			"request_id", requestcontext.RequestID(ctx),
			"breaker", v.breaker.Name(),
		)
	}
}

func failureOutcome(err error) models.Outcome {
	if errors.Is(err, errDegraded) {
		return models.Failed(FailureDegraded, "scorer temporarily unavailable", 0)
	}
	var se *Error
	if !errors.As(err, &se) {
		return models.Failed(FailureTransport, err.Error(), 0)
	}
	if se.Reply != nil {
		return models.Failed(se.Reply.Name, se.Reply.Message, se.Reply.MessageCode)
	}
	switch se.Category {
	case ErrorTimeout:
		return models.Failed(FailureTimeout, se.Error(), 0)
	case ErrorUnknownKey:
		return models.Failed(FailureUnknownKey, se.Error(), 0)
	case ErrorBadData:
		return models.Failed(FailureBadReply, se.Error(), 0)
	default:
		return models.Failed(FailureTransport, se.Error(), 0)
	}
}

func outcomeLabel(o models.Outcome) string {
	if !o.IsError() {
		return "verified"
	}
	if o.Failure.Name == FailureDegraded {
		return "degraded"
	}
	return "error"
}
