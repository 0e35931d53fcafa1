package k8s

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kubilitics/resourcemap/internal/pkg/metrics"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: cluster API unavailable")

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	StateClosed   CircuitBreakerState = iota // Normal operation
	StateOpen                                // Failing fast
	StateHalfOpen                            // Probing whether the API server recovered
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenDuration     = 30 * time.Second
)

// CircuitBreaker guards the calls a cluster's map makes to its API server.
// After failureThreshold consecutive transient failures the circuit opens for
// openDuration; the first call after that is let through as a probe.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	openDuration     time.Duration
	halfOpenMaxCalls int
	clusterID        string
	now              func() time.Time

	state             CircuitBreakerState
	failureCount      int
	openedAt          time.Time
	halfOpenCallCount int
}

// NewCircuitBreaker creates a circuit breaker with default settings.
func NewCircuitBreaker(clusterID string) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: defaultFailureThreshold,
		openDuration:     defaultOpenDuration,
		halfOpenMaxCalls: 1,
		clusterID:        clusterID,
		now:              time.Now,
	}
	metrics.CircuitBreakerState.WithLabelValues(clusterID).Set(float64(StateClosed))
	return cb
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next CircuitBreakerState) {
	if cb.state == next {
		return
	}
	metrics.CircuitBreakerTransitionsTotal.WithLabelValues(cb.clusterID, cb.state.String(), next.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(cb.clusterID).Set(float64(next))
	cb.state = next
}

// allow reports whether a call may proceed, moving open -> half-open once
// openDuration has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.openDuration {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenCallCount = 0
	}
	if cb.state == StateHalfOpen {
		if cb.halfOpenCallCount >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCallCount++
	}
	return true
}

// Execute executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failureCount = 0
		cb.halfOpenCallCount = 0
		cb.setState(StateClosed)
		return nil
	}
	if !isRetryableError(err) {
		// 404, 403 and friends say nothing about API server health
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.halfOpenCallCount = 0
			cb.setState(StateClosed)
		}
		return err
	}

	cb.failureCount++
	metrics.CircuitBreakerFailuresTotal.WithLabelValues(cb.clusterID).Inc()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.openedAt = cb.now()
		cb.halfOpenCallCount = 0
		cb.setState(StateOpen)
	}
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"network",
	"unreachable",
	"no such host",
	"dial tcp",
	"i/o timeout",
}

// isRetryableError extends isRetryable with context and transport failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if isRetryable(err) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
