package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/model"
	"settlement-engine/internal/store"
)

func TestApplyCreated(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := New(s)

	id := model.ObligationID{Network: "devnet", LedgerID: "ob-1"}
	nextDue := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	max := int64(12)

	require.NoError(t, a.ApplyCreated(ctx, model.ObligationCreated{
		ID:           id,
		Payer:        "payer",
		Payee:        "payee",
		Amount:       5000,
		Interval:     2592000,
		NextDue:      nextDue,
		MaxPayments:  &max,
		Fee:          50,
		FeeRecipient: "fee-addr",
		OccurredAt:   time.Now().UTC(),
	}))

	o, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, o.IsActive)
	assert.Equal(t, int64(0), o.PaymentCount)
	assert.Equal(t, int64(0), o.FailedPaymentCount)
	assert.Equal(t, nextDue, o.NextDue)
}

func TestApplyCreated_RejectsNonPositiveInterval(t *testing.T) {
	a := New(store.NewMemoryStore())
	err := a.ApplyCreated(context.Background(), model.ObligationCreated{
		ID:       model.ObligationID{Network: "devnet", LedgerID: "bad"},
		Interval: 0,
		NextDue:  time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestApplyConfirmed_CountersOnlyMoveForward(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := New(s)

	id := model.ObligationID{Network: "devnet", LedgerID: "ob-2"}
	nextDue := time.Now().UTC()
	require.NoError(t, s.Put(ctx, &model.Obligation{
		ID: id, Interval: 3600, NextDue: nextDue, IsActive: true, PaymentCount: 3,
	}))

	// A stale confirmation must not rewind anything.
	require.NoError(t, a.ApplyConfirmed(ctx, model.SettlementConfirmed{
		ID: id, PaymentCount: 2, NextDue: nextDue.Add(-time.Hour),
	}))
	o, _ := s.Get(ctx, id)
	assert.Equal(t, int64(3), o.PaymentCount)
	assert.Equal(t, nextDue, o.NextDue)

	require.NoError(t, a.ApplyConfirmed(ctx, model.SettlementConfirmed{
		ID: id, PaymentCount: 4, NextDue: nextDue.Add(time.Hour),
	}))
	o, _ = s.Get(ctx, id)
	assert.Equal(t, int64(4), o.PaymentCount)
	assert.Equal(t, nextDue.Add(time.Hour), o.NextDue)
	assert.Equal(t, int64(0), o.FailedPaymentCount)
}

func TestApplyCancelled_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := New(s)

	id := model.ObligationID{Network: "devnet", LedgerID: "ob-3"}
	require.NoError(t, s.Put(ctx, &model.Obligation{
		ID: id, Interval: 3600, NextDue: time.Now().UTC(), IsActive: true,
	}))

	at := time.Now().UTC()
	ev := model.ObligationCancelled{ID: id, Reason: model.ReasonUserCancelled, OccurredAt: at}
	require.NoError(t, a.ApplyCancelled(ctx, ev))
	require.NoError(t, a.ApplyCancelled(ctx, ev))

	o, _ := s.Get(ctx, id)
	assert.False(t, o.IsActive)
	require.NotNil(t, o.CancelledAt)
	assert.Equal(t, at, *o.CancelledAt)

	// Unknown obligation is a warning, not an error.
	require.NoError(t, a.ApplyCancelled(ctx, model.ObligationCancelled{
		ID: model.ObligationID{Network: "devnet", LedgerID: "missing"},
	}))
}
