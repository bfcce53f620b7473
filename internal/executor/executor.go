// Package executor settles batches of due obligations against the ledger,
// isolating each item's failure from the rest of the batch and advancing or
// terminating each obligation's schedule based on the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"settlement-engine/internal/model"
	"settlement-engine/internal/policy"
	"settlement-engine/internal/store"
)

// ErrUnauthorized is returned before any mutation when the caller is neither
// the automation identity nor an administrative owner.
var ErrUnauthorized = errors.New("caller not authorized for settlement processing")

// Settler is the injected settlement capability: submit one obligation's
// amount+fee transfer as a single atomic unit and await its outcome.
type Settler interface {
	Settle(ctx context.Context, o *model.Obligation) (txRef string, err error)
}

// SideEffects receives the audit record and notification intent for each
// attempt. Implementations must not block the settlement path.
type SideEffects interface {
	Emit(attempt *model.SettlementAttempt, intent *model.NotificationIntent)
}

// Outcome classifies the result of processing one obligation id.
type Outcome string

const (
	// OutcomeSuccess: the ledger confirmed the settlement.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeFailed: the ledger rejected, timed out, or errored.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeSkipped: a terminal transition or no-op; neither a success nor
	// a failure in the batch counts.
	OutcomeSkipped Outcome = "SKIPPED"
)

// ItemResult is the per-item result the batch reduces over.
type ItemResult struct {
	ID      model.ObligationID
	Outcome Outcome
	TxRef   string
	Reason  string
}

// BatchResult aggregates one batch. Skipped counts terminal no-ops, reported
// separately from successes and failures.
type BatchResult struct {
	Succeeded int
	Failed    int
	Skipped   int
}

type Executor struct {
	store     store.ObligationStore
	settler   Settler
	effects   SideEffects
	lookahead time.Duration
	allowed   map[string]struct{}
	now       func() time.Time
}

// New builds an executor. The automation identity and every admin identity
// may invoke batch processing; all other callers are rejected.
func New(s store.ObligationStore, settler Settler, effects SideEffects, lookahead time.Duration, automationIdentity string, adminIdentities []string) *Executor {
	allowed := map[string]struct{}{automationIdentity: {}}
	for _, id := range adminIdentities {
		allowed[id] = struct{}{}
	}
	return &Executor{
		store:     s,
		settler:   settler,
		effects:   effects,
		lookahead: lookahead,
		allowed:   allowed,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

func (e *Executor) authorize(caller string) error {
	if _, ok := e.allowed[caller]; !ok {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	return nil
}

// ProcessBatch settles each id independently. One item's ledger failure never
// aborts or rolls back the rest of the batch.
func (e *Executor) ProcessBatch(ctx context.Context, caller string, ids []model.ObligationID) (BatchResult, []ItemResult, error) {
	if err := e.authorize(caller); err != nil {
		return BatchResult{}, nil, err
	}

	var batch BatchResult
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		res := e.processItem(ctx, id)
		results = append(results, res)
		switch res.Outcome {
		case OutcomeSuccess:
			batch.Succeeded++
		case OutcomeFailed:
			batch.Failed++
		default:
			batch.Skipped++
		}
	}

	logrus.WithFields(logrus.Fields{
		"batch_size": len(ids),
		"succeeded":  batch.Succeeded,
		"failed":     batch.Failed,
		"skipped":    batch.Skipped,
	}).Info("settlement batch processed")
	return batch, results, nil
}

// ProcessOne is the single-item variant used for manual retries.
func (e *Executor) ProcessOne(ctx context.Context, caller string, id model.ObligationID) (ItemResult, error) {
	if err := e.authorize(caller); err != nil {
		return ItemResult{}, err
	}
	return e.processItem(ctx, id), nil
}

// processItem re-validates, settles, and persists one obligation. It returns
// a result instead of an error so per-item isolation is explicit.
func (e *Executor) processItem(ctx context.Context, id model.ObligationID) ItemResult {
	now := e.now()

	o, err := e.store.Get(ctx, id)
	if err != nil {
		logrus.WithField("obligation", id.String()).WithError(err).Warn("skipping unloadable obligation")
		return ItemResult{ID: id, Outcome: OutcomeSkipped, Reason: fmt.Sprintf("load failed: %v", err)}
	}

	// Re-validation: state may have moved between the resolver's read and
	// now. Already-inactive obligations are pure no-ops and must not be
	// mutated or settled again.
	if !o.IsActive {
		return ItemResult{ID: id, Outcome: OutcomeSkipped, Reason: "already inactive"}
	}
	if o.CapReached() {
		return e.terminate(ctx, o, model.ReasonMaxPaymentsReached, now)
	}
	if o.Expired(now) {
		return e.terminate(ctx, o, model.ReasonEndDateReached, now)
	}
	if !o.DueWithin(now, e.lookahead) {
		return ItemResult{ID: id, Outcome: OutcomeSkipped, Reason: "not due"}
	}

	txRef, err := e.settler.Settle(ctx, o)
	if err != nil {
		return e.handleFailure(ctx, o, err, now)
	}
	return e.handleSuccess(ctx, o, txRef, now)
}

func (e *Executor) handleSuccess(ctx context.Context, o *model.Obligation, txRef string, now time.Time) ItemResult {
	o.PaymentCount++
	o.FailedPaymentCount = 0
	// Advance from the previous nextDue, not from now, so the schedule does
	// not drift under late cycles.
	o.NextDue = o.NextDue.Add(o.IntervalDuration())

	capped := o.CapReached()
	if capped {
		o.Deactivate(model.ReasonMaxPaymentsReached, now)
	}

	if err := e.store.Update(ctx, o); err != nil {
		// The ledger settled but the mirror did not advance; the next cycle
		// would re-attempt this obligation. Surface loudly.
		logrus.WithField("obligation", o.ID.String()).WithError(err).
			Error("settlement confirmed but store update failed")
	}

	e.effects.Emit(
		&model.SettlementAttempt{
			AttemptID:    uuid.NewString(),
			ObligationID: o.ID,
			Amount:       o.Amount,
			Fee:          o.Fee,
			Outcome:      model.OutcomeSuccess,
			TxRef:        txRef,
			AttemptedAt:  now,
		},
		&model.NotificationIntent{
			IntentID:     uuid.NewString(),
			Kind:         model.NotifySettlementSucceeded,
			ObligationID: o.ID,
			Payer:        o.Payer,
			Payee:        o.Payee,
			Amount:       o.Amount,
			CreatedAt:    now,
		})

	if capped {
		e.emitCancelled(o, string(model.ReasonMaxPaymentsReached), now)
	}

	logrus.WithFields(logrus.Fields{
		"obligation": o.ID.String(),
		"tx_ref":     txRef,
		"payments":   o.PaymentCount,
		"next_due":   o.NextDue,
	}).Info("settlement succeeded")
	return ItemResult{ID: o.ID, Outcome: OutcomeSuccess, TxRef: txRef}
}

func (e *Executor) handleFailure(ctx context.Context, o *model.Obligation, settleErr error, now time.Time) ItemResult {
	o.FailedPaymentCount++

	cancelled := policy.ShouldCancel(o.FailedPaymentCount)
	if cancelled {
		o.Deactivate(model.ReasonAutoCancelledFailures, now)
	}

	if err := e.store.Update(ctx, o); err != nil {
		logrus.WithField("obligation", o.ID.String()).WithError(err).
			Error("failed to persist settlement failure")
	}

	e.effects.Emit(
		&model.SettlementAttempt{
			AttemptID:    uuid.NewString(),
			ObligationID: o.ID,
			Amount:       o.Amount,
			Fee:          o.Fee,
			Outcome:      model.OutcomeFailed,
			TxRef:        model.TxRefNone,
			Reason:       settleErr.Error(),
			AttemptedAt:  now,
		},
		&model.NotificationIntent{
			IntentID:     uuid.NewString(),
			Kind:         model.NotifySettlementFailed,
			ObligationID: o.ID,
			Payer:        o.Payer,
			Payee:        o.Payee,
			Amount:       o.Amount,
			Reason:       settleErr.Error(),
			CreatedAt:    now,
		})

	if cancelled {
		e.emitCancelled(o, string(model.ReasonAutoCancelledFailures), now)
		logrus.WithFields(logrus.Fields{
			"obligation": o.ID.String(),
			"failures":   o.FailedPaymentCount,
		}).Warn("obligation auto-cancelled after consecutive failures")
	}

	return ItemResult{ID: o.ID, Outcome: OutcomeFailed, Reason: settleErr.Error()}
}

// terminate performs a terminal transition discovered at re-validation. No
// ledger call is made; the item counts as neither success nor failure.
func (e *Executor) terminate(ctx context.Context, o *model.Obligation, reason model.CancellationReason, now time.Time) ItemResult {
	o.Deactivate(reason, now)
	if err := e.store.Update(ctx, o); err != nil {
		logrus.WithField("obligation", o.ID.String()).WithError(err).
			Error("failed to persist terminal transition")
	}
	e.emitCancelled(o, string(reason), now)

	logrus.WithFields(logrus.Fields{
		"obligation": o.ID.String(),
		"reason":     reason,
	}).Info("obligation deactivated")
	return ItemResult{ID: o.ID, Outcome: OutcomeSkipped, Reason: string(reason)}
}

func (e *Executor) emitCancelled(o *model.Obligation, reason string, now time.Time) {
	e.effects.Emit(nil, &model.NotificationIntent{
		IntentID:     uuid.NewString(),
		Kind:         model.NotifyObligationCancelled,
		ObligationID: o.ID,
		Payer:        o.Payer,
		Payee:        o.Payee,
		Amount:       o.Amount,
		Reason:       reason,
		CreatedAt:    now,
	})
}
