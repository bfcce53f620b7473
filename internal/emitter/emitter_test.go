package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/model"
	"settlement-engine/internal/store"
)

type failingRecorder struct{}

func (failingRecorder) RecordAttempt(context.Context, *model.SettlementAttempt) error {
	return errors.New("audit table unavailable")
}

func (failingRecorder) ListAttempts(context.Context, model.ObligationID, int) ([]*model.SettlementAttempt, error) {
	return nil, nil
}

func attempt(ledgerID string) *model.SettlementAttempt {
	return &model.SettlementAttempt{
		AttemptID:    "attempt-" + ledgerID,
		ObligationID: model.ObligationID{Network: "devnet", LedgerID: ledgerID},
		Amount:       1000,
		Fee:          10,
		Outcome:      model.OutcomeSuccess,
		TxRef:        "tx-" + ledgerID,
		AttemptedAt:  time.Now().UTC(),
	}
}

func TestEmit_RecordsAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewMemoryStore()
	e := New(s, nil, 10)
	e.Start(ctx, 1)

	a := attempt("a")
	e.Emit(a, &model.NotificationIntent{
		IntentID:     "intent-a",
		Kind:         model.NotifySettlementSucceeded,
		ObligationID: a.ObligationID,
		CreatedAt:    time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		attempts, err := s.ListAttempts(ctx, a.ObligationID, 10)
		return err == nil && len(attempts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	attempts, err := s.ListAttempts(ctx, a.ObligationID, 10)
	require.NoError(t, err)
	assert.Equal(t, "tx-a", attempts[0].TxRef)
}

func TestEmit_RecorderFailureIsSwallowed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(failingRecorder{}, nil, 10)
	e.Start(ctx, 1)

	// Must neither panic nor block the caller.
	e.Emit(attempt("a"), nil)
	time.Sleep(50 * time.Millisecond)
}

func TestEmit_FullQueueDropsWithoutBlocking(t *testing.T) {
	// No workers started: the queue fills and further emissions drop.
	e := New(store.NewMemoryStore(), nil, 2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Emit(attempt("x"), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}

func TestEmit_IntentOnlyOnFullQueue(t *testing.T) {
	// Cancellation jobs carry an intent and no attempt record. Dropping one
	// from a full queue must not dereference the missing attempt.
	e := New(store.NewMemoryStore(), nil, 1)
	e.Emit(attempt("filler"), nil)

	assert.NotPanics(t, func() {
		e.Emit(nil, &model.NotificationIntent{
			IntentID:     "intent-cancel",
			Kind:         model.NotifyObligationCancelled,
			ObligationID: model.ObligationID{Network: "devnet", LedgerID: "b"},
			Reason:       "consecutive failure limit",
			CreatedAt:    time.Now().UTC(),
		})
	})
}
