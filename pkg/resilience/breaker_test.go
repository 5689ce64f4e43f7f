package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", threshold, cooldown)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	failure := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		assert.Equal(t, CircuitBreakerClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
	}
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	failure := errors.New("timeout")

	_ = cb.Execute(func() error { return failure })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return failure })

	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 10*time.Second)
	failure := errors.New("no hosts available")

	_ = cb.Execute(func() error { return failure })
	require.Equal(t, CircuitBreakerOpen, cb.State())

	*now = now.Add(11 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
	assert.Equal(t, CircuitBreakerOpen, cb.State(), "failed probe reopens")

	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	*now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("defaults", 0, 0)
	assert.Equal(t, DefaultFailureThreshold, cb.threshold)
	assert.Equal(t, DefaultCooldown, cb.cooldown)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(errors.New("context deadline exceeded")))
	assert.Equal(t, "network", classifyError(errors.New("dial tcp: connection refused")))
	assert.Equal(t, "unavailable", classifyError(errors.New("gocql: no hosts available in the pool")))
	assert.Equal(t, "unknown", classifyError(errors.New("syntax error")))
}
