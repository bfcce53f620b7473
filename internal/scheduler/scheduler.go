// Package scheduler owns the periodic settlement loop and the manual trigger
// entry point. At most one settlement cycle runs at a time, whether
// timer-driven or manually triggered; a cycle requested while one is running
// is rejected, never run in parallel. A single scheduling authority per
// deployment is assumed; running replicas concurrently would reopen the
// double-settlement window this guard closes.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"settlement-engine/internal/executor"
	"settlement-engine/internal/model"
	"settlement-engine/internal/resolver"
)

// ErrCycleInProgress is returned by TriggerNow when the overlap guard is held.
var ErrCycleInProgress = errors.New("settlement cycle already in progress")

// CycleResult records one completed cycle for the status surface.
type CycleResult struct {
	At        time.Time `json:"at"`
	BatchSize int       `json:"batchSize"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Duration  string    `json:"duration"`
}

// Status is the snapshot served by the admin status endpoint.
type Status struct {
	Running     bool         `json:"running"`
	DueCount    int          `json:"dueCount"`
	LastChecked *time.Time   `json:"lastChecked,omitempty"`
	LastCycle   *CycleResult `json:"lastCycle,omitempty"`
}

type Scheduler struct {
	resolver *resolver.EligibilityResolver
	executor *executor.Executor

	interval     time.Duration
	lookahead    time.Duration
	maxBatchSize int
	identity     string

	// cycleMu is the overlap guard: try-acquired per cycle, never waited on.
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	statusMu  sync.RWMutex
	lastCycle *CycleResult
}

func New(r *resolver.EligibilityResolver, ex *executor.Executor, interval, lookahead time.Duration, maxBatchSize int, automationIdentity string) *Scheduler {
	return &Scheduler{
		resolver:     r,
		executor:     ex,
		interval:     interval,
		lookahead:    lookahead,
		maxBatchSize: maxBatchSize,
		identity:     automationIdentity,
	}
}

// Start transitions STOPPED -> RUNNING: one immediate cycle, then a fixed
// period. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logrus.Debug("scheduler already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	logrus.WithField("interval", s.interval).Info("scheduler started")
	go s.loop(loopCtx)
}

// Stop transitions RUNNING -> STOPPED. An in-flight cycle finishes; no new
// cycle is armed. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.cancel = nil
	logrus.Info("scheduler stopped")
}

// Running reports the lifecycle state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow runs one on-demand cycle, usable regardless of timer phase and
// even while the periodic loop is stopped. It reports only whether the cycle
// was started; individual settlement outcomes surface via Status.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.runCycle(ctx) {
		return ErrCycleInProgress
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one settlement cycle under the overlap guard. It returns
// false without running anything when a cycle is already in flight.
func (s *Scheduler) runCycle(ctx context.Context) bool {
	if !s.cycleMu.TryLock() {
		logrus.Debug("cycle request dropped, another cycle is running")
		return false
	}
	defer s.cycleMu.Unlock()

	start := time.Now().UTC()
	ids, err := s.resolver.DueObligations(ctx, start, s.lookahead, s.maxBatchSize)
	if err != nil {
		// Cycle-level failure: nothing was mutated, the next tick retries.
		logrus.WithError(err).Error("settlement cycle aborted during eligibility resolution")
		return true
	}

	var batch executor.BatchResult
	if len(ids) > 0 {
		batch, _, err = s.executor.ProcessBatch(ctx, s.identity, ids)
		if err != nil {
			logrus.WithError(err).Error("settlement cycle aborted before processing")
			return true
		}
	}

	result := &CycleResult{
		At:        start,
		BatchSize: len(ids),
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Skipped:   batch.Skipped,
		Duration:  time.Since(start).String(),
	}
	s.statusMu.Lock()
	s.lastCycle = result
	s.statusMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"batch_size": result.BatchSize,
		"succeeded":  result.Succeeded,
		"failed":     result.Failed,
		"skipped":    result.Skipped,
		"duration":   result.Duration,
	}).Info("settlement cycle complete")
	return true
}

// Status snapshots the scheduler plus a live due count.
func (s *Scheduler) Status(ctx context.Context) Status {
	st := Status{Running: s.Running()}

	if count, err := s.resolver.DueCount(ctx, time.Now().UTC(), s.lookahead); err == nil {
		st.DueCount = count
	} else {
		logrus.WithError(err).Warn("failed to count due obligations for status")
	}

	s.statusMu.RLock()
	if s.lastCycle != nil {
		cp := *s.lastCycle
		st.LastCycle = &cp
		st.LastChecked = &cp.At
	}
	s.statusMu.RUnlock()
	return st
}

// DueSummaries serves the due-obligations admin endpoint.
func (s *Scheduler) DueSummaries(ctx context.Context) ([]model.ObligationSummary, error) {
	due, err := s.resolver.DueList(ctx, time.Now().UTC(), s.lookahead)
	if err != nil {
		return nil, err
	}
	out := make([]model.ObligationSummary, 0, len(due))
	for _, o := range due {
		out = append(out, o.Summary())
	}
	return out, nil
}
