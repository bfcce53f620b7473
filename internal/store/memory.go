package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-engine/internal/model"
)

// MemoryStore is an in-memory ObligationStore and AttemptRecorder, used in
// tests and single-node development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	obligations map[string]*model.Obligation
	attempts    map[string][]*model.SettlementAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		obligations: make(map[string]*model.Obligation),
		attempts:    make(map[string][]*model.SettlementAttempt),
	}
}

func (s *MemoryStore) Get(_ context.Context, id model.ObligationID) (*model.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.obligations[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, o *model.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.obligations[o.ID.String()] = &cp
	return nil
}

func (s *MemoryStore) Update(_ context.Context, o *model.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.obligations[o.ID.String()]; !ok {
		return ErrNotFound
	}
	cp := *o
	cp.UpdatedAt = time.Now().UTC()
	s.obligations[o.ID.String()] = &cp
	return nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, lookahead time.Duration, limit int) ([]*model.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*model.Obligation
	for _, o := range s.obligations {
		if o.DueWithin(now, lookahead) {
			cp := *o
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextDue.Equal(due[j].NextDue) {
			return due[i].ID.String() < due[j].ID.String()
		}
		return due[i].NextDue.Before(due[j].NextDue)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) CountDue(_ context.Context, now time.Time, lookahead time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, o := range s.obligations {
		if o.DueWithin(now, lookahead) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, a *model.SettlementAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	key := a.ObligationID.String()
	s.attempts[key] = append(s.attempts[key], &cp)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, id model.ObligationID, limit int) ([]*model.SettlementAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.attempts[id.String()]
	// newest first, matching the postgres query
	out := make([]*model.SettlementAttempt, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		cp := *all[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
