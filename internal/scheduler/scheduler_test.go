package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/executor"
	"settlement-engine/internal/model"
	"settlement-engine/internal/resolver"
	"settlement-engine/internal/store"
)

const automation = "settlement-automation"

type blockingSettler struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func newBlockingSettler() *blockingSettler {
	return &blockingSettler{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingSettler) Settle(_ context.Context, o *model.Obligation) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.entered <- struct{}{}
	<-b.release
	return "tx-" + o.ID.LedgerID, nil
}

func (b *blockingSettler) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type instantSettler struct {
	mu    sync.Mutex
	calls int
}

func (s *instantSettler) Settle(_ context.Context, o *model.Obligation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "tx-" + o.ID.LedgerID, nil
}

func (s *instantSettler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type noopEffects struct{}

func (noopEffects) Emit(*model.SettlementAttempt, *model.NotificationIntent) {}

func dueObligation(ledgerID string) *model.Obligation {
	return &model.Obligation{
		ID:       model.ObligationID{Network: "devnet", LedgerID: ledgerID},
		Payer:    "payer",
		Payee:    "payee",
		Amount:   1000,
		Interval: 3600,
		NextDue:  time.Now().UTC().Add(-time.Minute),
		IsActive: true,
	}
}

func newTestScheduler(s store.ObligationStore, settler executor.Settler) *Scheduler {
	ex := executor.New(s, settler, noopEffects{}, 0, automation, nil)
	return New(resolver.New(s), ex, time.Hour, 0, 25, automation)
}

func TestStartRunsImmediateCycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, dueObligation("a")))

	settler := &instantSettler{}
	sched := newTestScheduler(s, settler)
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		got, err := s.Get(ctx, model.ObligationID{Network: "devnet", LedgerID: "a"})
		return err == nil && got.PaymentCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	st := sched.Status(ctx)
	assert.True(t, st.Running)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 1, st.LastCycle.Succeeded)
}

func TestStartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	sched := newTestScheduler(store.NewMemoryStore(), &instantSettler{})

	assert.False(t, sched.Running())
	sched.Start(ctx)
	sched.Start(ctx) // no-op
	assert.True(t, sched.Running())

	sched.Stop()
	sched.Stop() // no-op
	assert.False(t, sched.Running())
}

func TestTriggerNow_OverlapGuard(t *testing.T) {
	// Scenario E: two trigger requests in rapid succession produce exactly
	// one cycle's worth of ledger calls.
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, dueObligation("a")))

	settler := newBlockingSettler()
	sched := newTestScheduler(s, settler)

	var firstErr error
	done := make(chan struct{})
	go func() {
		firstErr = sched.TriggerNow(ctx)
		close(done)
	}()

	// Wait until the first cycle is inside the ledger call, then the second
	// trigger must be rejected, not queued.
	<-settler.entered
	err := sched.TriggerNow(ctx)
	require.ErrorIs(t, err, ErrCycleInProgress)

	close(settler.release)
	<-done
	require.NoError(t, firstErr)
	assert.Equal(t, 1, settler.callCount())

	got, _ := s.Get(ctx, model.ObligationID{Network: "devnet", LedgerID: "a"})
	assert.Equal(t, int64(1), got.PaymentCount)
}

func TestTriggerNow_WorksWhileStopped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, dueObligation("a")))

	settler := &instantSettler{}
	sched := newTestScheduler(s, settler)

	require.NoError(t, sched.TriggerNow(ctx))
	assert.Equal(t, 1, settler.callCount())
	assert.False(t, sched.Running())
}

func TestTriggerNow_EmptyDueSet(t *testing.T) {
	ctx := context.Background()
	sched := newTestScheduler(store.NewMemoryStore(), &instantSettler{})

	require.NoError(t, sched.TriggerNow(ctx))
	st := sched.Status(ctx)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 0, st.LastCycle.BatchSize)
	assert.Equal(t, 0, st.DueCount)
}

func TestStatus_DueCount(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, dueObligation("a")))
	require.NoError(t, s.Put(ctx, dueObligation("b")))

	sched := newTestScheduler(s, &instantSettler{})
	st := sched.Status(ctx)
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.DueCount)
	assert.Nil(t, st.LastChecked)

	summaries, err := sched.DueSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}
