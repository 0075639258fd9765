package scorer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorid/internal/identity/metrics"
	"visitorid/internal/identity/models"
	"visitorid/pkg/platform/circuit"
)

type stubAPI struct {
	mu          sync.Mutex
	verifyReply *VerifyReply
	autoReply   *AutoReply
	err         error
	calls       []string
}

func (s *stubAPI) Verify(_ context.Context, key, user string, _ []string) (*VerifyReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "verify:"+key+":"+user)
	return s.verifyReply, s.err
}

func (s *stubAPI) Auto(_ context.Context, key, user string, _ []string, _ *string) (*AutoReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "auto:"+key+":"+user)
	return s.autoReply, s.err
}

func newTestVerifier(api *stubAPI, opts ...VerifierOption) *Verifier {
	opts = append([]VerifierOption{WithMetrics(metrics.NewWith(prometheus.NewRegistry()))}, opts...)
	return NewVerifier(api, "default-key", opts...)
}

func TestVerifierVerify(t *testing.T) {
	candidate := &models.Identity{ID: 7, ScorerKey: "key-b"}

	t.Run("maps verified reply", func(t *testing.T) {
		api := &stubAPI{verifyReply: &VerifyReply{Result: true, Confidence: 99, Action: "verify;enroll"}}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, []string{"tp"})

		require.False(t, outcome.IsError())
		assert.True(t, outcome.Verification.Match)
		assert.False(t, outcome.Verification.HighConfidence, "verify replies carry no confidence flag")
		assert.Equal(t, models.ActionVerifyAndEnroll, outcome.Verification.Action)
		assert.Equal(t, int64(7), outcome.Verification.CandidateID)
		assert.Equal(t, []string{"verify:key-b:7"}, api.calls)
	})

	t.Run("keeps unrecognized actions verbatim", func(t *testing.T) {
		api := &stubAPI{verifyReply: &VerifyReply{Result: true, Action: "save"}}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, nil)
		require.False(t, outcome.IsError())
		assert.False(t, outcome.Verification.Action.Known())
	})

	t.Run("error payload becomes an error outcome", func(t *testing.T) {
		api := &stubAPI{err: &Error{Category: ErrorRejected, Reply: &ErrorReply{Name: "InvalidTypingPattern", Message: "bad", MessageCode: 33}}}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, nil)
		require.True(t, outcome.IsError())
		assert.Equal(t, "InvalidTypingPattern", outcome.Failure.Name)
		assert.Equal(t, 33, outcome.Failure.Code)
	})

	t.Run("timeout becomes an error outcome", func(t *testing.T) {
		api := &stubAPI{err: newError(ErrorTimeout, "slow", context.DeadlineExceeded)}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, nil)
		require.True(t, outcome.IsError())
		assert.Equal(t, FailureTimeout, outcome.Failure.Name)
	})

	t.Run("unknown key becomes an error outcome", func(t *testing.T) {
		api := &stubAPI{err: newError(ErrorUnknownKey, "missing", ErrUnknownKey)}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, nil)
		require.True(t, outcome.IsError())
		assert.Equal(t, FailureUnknownKey, outcome.Failure.Name)
	})

	t.Run("untyped errors become transport failures", func(t *testing.T) {
		api := &stubAPI{err: errors.New("boom")}
		outcome := newTestVerifier(api).Verify(context.Background(), candidate, nil)
		require.True(t, outcome.IsError())
		assert.Equal(t, FailureTransport, outcome.Failure.Name)
	})
}

func TestVerifierAutoUsesPrimaryIdentifier(t *testing.T) {
	api := &stubAPI{autoReply: &AutoReply{Result: true, HighConfidence: true, Action: "verify"}}
	outcome := newTestVerifier(api).Auto(context.Background(), "fp-1", []string{"tp"})

	require.False(t, outcome.IsError())
	assert.True(t, outcome.Verification.HighConfidence)
	assert.Zero(t, outcome.Verification.CandidateID)
	assert.Equal(t, []string{"auto:default-key:fp-1"}, api.calls)
}

func TestVerifierCircuitBreaker(t *testing.T) {
	breaker := circuit.New("scorer", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(2))
	api := &stubAPI{err: newError(ErrorOutage, "down", nil)}
	v := newTestVerifier(api, WithBreaker(breaker))
	candidate := &models.Identity{ID: 1, ScorerKey: "k"}
	ctx := context.Background()

	first := v.Verify(ctx, candidate, nil)
	assert.Equal(t, FailureTransport, first.Failure.Name)
	assert.False(t, breaker.IsOpen())

	second := v.Verify(ctx, candidate, nil)
	assert.Equal(t, FailureDegraded, second.Failure.Name)
	assert.True(t, breaker.IsOpen())

	api.err = nil
	api.verifyReply = &VerifyReply{Result: true, Action: "verify"}

	recovering := v.Verify(ctx, candidate, nil)
	assert.Equal(t, FailureDegraded, recovering.Failure.Name, "replies are discarded while open")

	closed := v.Verify(ctx, candidate, nil)
	assert.False(t, closed.IsError())
	assert.False(t, breaker.IsOpen())
}

func TestVerifierRejectionsDoNotTripBreaker(t *testing.T) {
	breaker := circuit.New("scorer", circuit.WithFailureThreshold(1))
	api := &stubAPI{err: &Error{Category: ErrorRejected, Reply: &ErrorReply{Name: "InvalidTypingPattern"}}}
	v := newTestVerifier(api, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		v.Verify(context.Background(), &models.Identity{ID: 1}, nil)
	}
	assert.False(t, breaker.IsOpen())
}
