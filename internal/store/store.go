// Package store holds the durable off-chain mirror of obligation schedules
// and counters, plus the append-only settlement attempt audit log.
package store

import (
	"context"
	"errors"
	"time"

	"settlement-engine/internal/model"
)

// ErrNotFound is returned when no obligation exists for the given id.
var ErrNotFound = errors.New("obligation not found")

// ObligationStore is the persistence interface shared by the resolver (reads)
// and the executor (writes). List results are ordered ascending by nextDue,
// ties broken by id, so batch truncation is deterministic.
type ObligationStore interface {
	Get(ctx context.Context, id model.ObligationID) (*model.Obligation, error)
	Put(ctx context.Context, o *model.Obligation) error
	Update(ctx context.Context, o *model.Obligation) error

	// ListDue returns active obligations with nextDue <= now+lookahead.
	// A limit <= 0 means no cap.
	ListDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]*model.Obligation, error)
	CountDue(ctx context.Context, now time.Time, lookahead time.Duration) (int, error)
}

// AttemptRecorder appends settlement attempt audit records. Records are
// written once and never mutated or deleted.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a *model.SettlementAttempt) error
	ListAttempts(ctx context.Context, id model.ObligationID, limit int) ([]*model.SettlementAttempt, error)
}
