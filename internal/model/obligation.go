package model

import (
	"fmt"
	"time"
)

// CancellationReason explains why an obligation was permanently deactivated.
type CancellationReason string

const (
	ReasonAutoCancelledFailures CancellationReason = "auto_cancelled_failures"
	ReasonMaxPaymentsReached    CancellationReason = "max_payments_reached"
	ReasonEndDateReached        CancellationReason = "end_date_reached"
	ReasonUserCancelled         CancellationReason = "user_cancelled"
)

// ObligationID is the composite key of a recurring obligation: the network it
// lives on plus its ledger-native id. Assigned at creation, immutable.
type ObligationID struct {
	Network  string `json:"network"`
	LedgerID string `json:"ledgerId"`
}

func (id ObligationID) String() string {
	return id.Network + ":" + id.LedgerID
}

// ParseObligationID parses the "network:ledgerId" form used on the wire.
func ParseObligationID(s string) (ObligationID, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i == 0 || i == len(s)-1 {
				break
			}
			return ObligationID{Network: s[:i], LedgerID: s[i+1:]}, nil
		}
	}
	return ObligationID{}, fmt.Errorf("invalid obligation id %q", s)
}

// Obligation is one recurring payment agreement between a payer and a payee.
// Amounts are fixed-point integers in the smallest currency unit.
type Obligation struct {
	ID ObligationID `json:"id"`

	Payer        string `json:"payer"`
	Payee        string `json:"payee"`
	PayerAddress string `json:"payerAddress"`
	PayeeAddress string `json:"payeeAddress"`

	Amount      int64      `json:"amount"`
	Interval    int64      `json:"interval"` // seconds, > 0
	EndDate     *time.Time `json:"endDate,omitempty"`
	MaxPayments *int64     `json:"maxPayments,omitempty"`

	Fee          int64  `json:"fee"`
	FeeRecipient string `json:"feeRecipient"`
	FeeCurrency  string `json:"feeCurrency,omitempty"`

	PaymentCount       int64     `json:"paymentCount"`
	FailedPaymentCount int64     `json:"failedPaymentCount"`
	NextDue            time.Time `json:"nextDue"`

	IsActive           bool                `json:"isActive"`
	CancelledAt        *time.Time          `json:"cancelledAt,omitempty"`
	CancellationReason *CancellationReason `json:"cancellationReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IntervalDuration returns the settlement interval as a time.Duration.
func (o *Obligation) IntervalDuration() time.Duration {
	return time.Duration(o.Interval) * time.Second
}

// CapReached reports whether the optional maximum payment count has been hit.
func (o *Obligation) CapReached() bool {
	return o.MaxPayments != nil && o.PaymentCount >= *o.MaxPayments
}

// Expired reports whether the optional end date lies at or before now.
func (o *Obligation) Expired(now time.Time) bool {
	return o.EndDate != nil && !o.EndDate.After(now)
}

// DueWithin reports whether the obligation qualifies for the due window
// ending at now+lookahead. Inactive obligations are never due.
func (o *Obligation) DueWithin(now time.Time, lookahead time.Duration) bool {
	return o.IsActive && !o.NextDue.After(now.Add(lookahead))
}

// Deactivate performs the terminal transition. Once inactive an obligation is
// never settled again and never reactivated.
func (o *Obligation) Deactivate(reason CancellationReason, at time.Time) {
	if !o.IsActive {
		return
	}
	o.IsActive = false
	o.CancelledAt = &at
	o.CancellationReason = &reason
}

// ObligationSummary is the shape served by the due-obligations admin endpoint.
type ObligationSummary struct {
	ID                 string    `json:"id"`
	Payer              string    `json:"payer"`
	Payee              string    `json:"payee"`
	Amount             int64     `json:"amount"`
	Fee                int64     `json:"fee"`
	NextDue            time.Time `json:"nextDue"`
	PaymentCount       int64     `json:"paymentCount"`
	FailedPaymentCount int64     `json:"failedPaymentCount"`
}

// Summary converts an obligation to its admin-surface summary form.
func (o *Obligation) Summary() ObligationSummary {
	return ObligationSummary{
		ID:                 o.ID.String(),
		Payer:              o.Payer,
		Payee:              o.Payee,
		Amount:             o.Amount,
		Fee:                o.Fee,
		NextDue:            o.NextDue,
		PaymentCount:       o.PaymentCount,
		FailedPaymentCount: o.FailedPaymentCount,
	}
}
