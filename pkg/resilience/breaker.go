package resilience

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned by Execute while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// Default breaker settings
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 10 * time.Second
)

// CircuitBreaker stops calling a failing dependency after consecutive
// failures and lets a single probe through once the cooldown has passed.
// Execute does not retry; callers that need retries own them.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewCircuitBreaker creates a closed breaker. Non-positive settings fall
// back to the defaults.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	cb := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     CircuitBreakerClosed,
	}
	cb.report()
	return cb
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, "rejected").Inc()
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err)
	if err != nil {
		metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, classifyError(err)).Inc()
		return err
	}
	metrics.CircuitBreakerRequestsTotal.WithLabelValues(cb.name, "success").Inc()
	return nil
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = CircuitBreakerHalfOpen
		cb.probing = true
		cb.report()
		logger.Warn("Circuit breaker HALF-OPEN - allowing probe", zap.String("breaker", cb.name))
		return true
	case CircuitBreakerHalfOpen:
		// One probe at a time
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		if cb.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker CLOSED - dependency recovered", zap.String("breaker", cb.name))
		}
		cb.state = CircuitBreakerClosed
		cb.consecutiveFailures = 0
		cb.report()
		return
	}

	cb.consecutiveFailures++
	if cb.state == CircuitBreakerHalfOpen || cb.consecutiveFailures >= cb.threshold {
		if cb.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", cb.name),
				zap.Int("consecutive_failures", cb.consecutiveFailures),
				zap.Error(err))
		}
		cb.state = CircuitBreakerOpen
		cb.openedAt = cb.now()
		cb.report()
	}
}

func (cb *CircuitBreaker) report() {
	var value float64
	switch cb.state {
	case CircuitBreakerHalfOpen:
		value = 1
	case CircuitBreakerOpen:
		value = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(value)
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "unavailable") || strings.Contains(errMsg, "no hosts"):
		return "unavailable"
	default:
		return "unknown"
	}
}
