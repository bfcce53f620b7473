package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig is used for every ledger endpoint unless overridden.
var DefaultBreakerConfig = CircuitBreakerConfig{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	ResetTimeout:     30 * time.Second,
}

// CircuitBreaker guards one ledger endpoint. When open, settlement
// submissions fail fast instead of waiting out a timeout against a node that
// is known to be down.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitState
	failureCount int
	successCount int
	lastFailTime time.Time
	mu           sync.Mutex
	endpoint     string
}

func NewCircuitBreaker(endpoint string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config:   config,
		state:    CircuitClosed,
		endpoint: endpoint,
	}
}

// CanExecute reports whether a call may go through, transitioning an expired
// open breaker to half-open.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailTime) > cb.config.ResetTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			logrus.WithFields(logrus.Fields{
				"endpoint": cb.endpoint,
				"after":    time.Since(cb.lastFailTime),
			}).Info("circuit breaker half-open")
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
			logrus.WithField("endpoint", cb.endpoint).Info("circuit breaker closed")
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailTime = time.Now()
	cb.successCount = 0

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			logrus.WithFields(logrus.Fields{
				"endpoint": cb.endpoint,
				"failures": cb.failureCount,
			}).Warn("circuit breaker opened")
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.failureCount++
		logrus.WithField("endpoint", cb.endpoint).Warn("circuit breaker reopened from half-open")
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call wraps fn with the breaker's admission and outcome accounting.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("circuit breaker open for %s", cb.endpoint)
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
