package model

import "time"

// AttemptOutcome is the result of one settlement attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "SUCCESS"
	OutcomeFailed  AttemptOutcome = "FAILED"
)

// TxRefNone marks attempts that never reached the ledger.
const TxRefNone = "none"

// SettlementAttempt is the append-only audit record written once per attempt.
type SettlementAttempt struct {
	AttemptID    string         `json:"attemptId"`
	ObligationID ObligationID   `json:"obligationId"`
	Amount       int64          `json:"amount"`
	Fee          int64          `json:"fee"`
	Outcome      AttemptOutcome `json:"outcome"`
	TxRef        string         `json:"txRef"`
	Reason       string         `json:"reason,omitempty"`
	AttemptedAt  time.Time      `json:"attemptedAt"`
}

// NotificationKind distinguishes the notification intents handed to the
// emitter after each settlement attempt or terminal transition.
type NotificationKind string

const (
	NotifySettlementSucceeded NotificationKind = "settlement_succeeded"
	NotifySettlementFailed    NotificationKind = "settlement_failed"
	NotifyObligationCancelled NotificationKind = "obligation_cancelled"
)

// NotificationIntent is the best-effort message queued for the external
// notification delivery system.
type NotificationIntent struct {
	IntentID     string           `json:"intentId"`
	Kind         NotificationKind `json:"kind"`
	ObligationID ObligationID     `json:"obligationId"`
	Payer        string           `json:"payer"`
	Payee        string           `json:"payee"`
	Amount       int64            `json:"amount"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}
