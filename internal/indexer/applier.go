// Package indexer applies parsed ledger event payloads to the obligation
// store. It is the seam the external synchronizer calls; the settlement path
// never goes through it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"settlement-engine/internal/model"
	"settlement-engine/internal/store"
)

type Applier struct {
	store store.ObligationStore
}

func New(s store.ObligationStore) *Applier {
	return &Applier{store: s}
}

// ApplyCreated mirrors a newly created obligation. Creation always starts
// active with zeroed counters.
func (a *Applier) ApplyCreated(ctx context.Context, ev model.ObligationCreated) error {
	o := &model.Obligation{
		ID:           ev.ID,
		Payer:        ev.Payer,
		Payee:        ev.Payee,
		PayerAddress: ev.PayerAddress,
		PayeeAddress: ev.PayeeAddress,
		Amount:       ev.Amount,
		Interval:     ev.Interval,
		EndDate:      ev.EndDate,
		MaxPayments:  ev.MaxPayments,
		Fee:          ev.Fee,
		FeeRecipient: ev.FeeRecipient,
		FeeCurrency:  ev.FeeCurrency,
		NextDue:      ev.NextDue,
		IsActive:     true,
		CreatedAt:    ev.OccurredAt,
		UpdatedAt:    ev.OccurredAt,
	}
	if o.Interval <= 0 {
		return fmt.Errorf("obligation %s has non-positive interval %d", ev.ID, ev.Interval)
	}
	if err := a.store.Put(ctx, o); err != nil {
		return fmt.Errorf("applying ObligationCreated: %w", err)
	}
	logrus.WithField("obligation", ev.ID.String()).Info("obligation mirrored from ledger")
	return nil
}

// ApplyConfirmed reconciles the mirror with an on-chain settlement the
// executor did not perform itself (e.g. one confirmed by another surface).
// Counters only move forward.
func (a *Applier) ApplyConfirmed(ctx context.Context, ev model.SettlementConfirmed) error {
	o, err := a.store.Get(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("applying SettlementConfirmed: %w", err)
	}
	if ev.PaymentCount <= o.PaymentCount {
		// Already reflected, typically by the executor's own write.
		return nil
	}
	o.PaymentCount = ev.PaymentCount
	o.FailedPaymentCount = 0
	if ev.NextDue.After(o.NextDue) {
		o.NextDue = ev.NextDue
	}
	if err := a.store.Update(ctx, o); err != nil {
		return fmt.Errorf("applying SettlementConfirmed: %w", err)
	}
	return nil
}

// ApplyFailed reconciles an externally observed settlement failure.
func (a *Applier) ApplyFailed(ctx context.Context, ev model.SettlementFailed) error {
	o, err := a.store.Get(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("applying SettlementFailed: %w", err)
	}
	if ev.FailedCount <= o.FailedPaymentCount {
		return nil
	}
	o.FailedPaymentCount = ev.FailedCount
	if err := a.store.Update(ctx, o); err != nil {
		return fmt.Errorf("applying SettlementFailed: %w", err)
	}
	return nil
}

// ApplyCancelled mirrors a cancellation observed on the ledger. Idempotent
// for already-inactive obligations.
func (a *Applier) ApplyCancelled(ctx context.Context, ev model.ObligationCancelled) error {
	o, err := a.store.Get(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logrus.WithField("obligation", ev.ID.String()).Warn("cancellation for unknown obligation")
			return nil
		}
		return fmt.Errorf("applying ObligationCancelled: %w", err)
	}
	if !o.IsActive {
		return nil
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	o.Deactivate(ev.Reason, at)
	if err := a.store.Update(ctx, o); err != nil {
		return fmt.Errorf("applying ObligationCancelled: %w", err)
	}
	return nil
}
