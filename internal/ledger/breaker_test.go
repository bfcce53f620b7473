package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker() *CircuitBreaker {
	return NewCircuitBreaker("primary", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := testBreaker()
	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	cb := testBreaker()
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Two successes close it again.
	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := testBreaker()
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerCall(t *testing.T) {
	cb := testBreaker()

	err := cb.Call(func() error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	}
	err = cb.Call(func() error { return nil })
	assert.Error(t, err) // open breaker fails fast without invoking fn
}
