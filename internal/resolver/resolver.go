// Package resolver answers "which obligations are due right now", bounded by
// the per-cycle batch cap. It never mutates the store.
package resolver

import (
	"context"
	"fmt"
	"time"

	"settlement-engine/internal/model"
	"settlement-engine/internal/store"
)

type EligibilityResolver struct {
	store store.ObligationStore
}

func New(s store.ObligationStore) *EligibilityResolver {
	return &EligibilityResolver{store: s}
}

// DueObligations returns at most maxBatchSize obligation ids with
// nextDue <= now+lookahead, earliest due first, ties broken by id. Excess
// eligible obligations are deferred to the next cycle.
func (r *EligibilityResolver) DueObligations(ctx context.Context, now time.Time, lookahead time.Duration, maxBatchSize int) ([]model.ObligationID, error) {
	if lookahead < 0 {
		return nil, fmt.Errorf("lookahead must be >= 0, got %v", lookahead)
	}
	if maxBatchSize <= 0 {
		return nil, fmt.Errorf("maxBatchSize must be > 0, got %d", maxBatchSize)
	}

	due, err := r.store.ListDue(ctx, now, lookahead, maxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("resolving due obligations: %w", err)
	}

	ids := make([]model.ObligationID, 0, len(due))
	for _, o := range due {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// DueList returns the full uncapped due set, for the admin surface and tests.
func (r *EligibilityResolver) DueList(ctx context.Context, now time.Time, lookahead time.Duration) ([]*model.Obligation, error) {
	if lookahead < 0 {
		return nil, fmt.Errorf("lookahead must be >= 0, got %v", lookahead)
	}
	return r.store.ListDue(ctx, now, lookahead, 0)
}

// DueCount returns the number of obligations matching the due predicate.
func (r *EligibilityResolver) DueCount(ctx context.Context, now time.Time, lookahead time.Duration) (int, error) {
	if lookahead < 0 {
		return 0, fmt.Errorf("lookahead must be >= 0, got %v", lookahead)
	}
	return r.store.CountDue(ctx, now, lookahead)
}
