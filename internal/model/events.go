package model

import "time"

// Event payloads supplied by the external indexer, already parsed from ledger
// logs. The synchronizer applies them to the obligation store; the settlement
// path never consumes them directly.

type ObligationCreated struct {
	ID           ObligationID `json:"id"`
	Payer        string       `json:"payer"`
	Payee        string       `json:"payee"`
	PayerAddress string       `json:"payerAddress"`
	PayeeAddress string       `json:"payeeAddress"`
	Amount       int64        `json:"amount"`
	Interval     int64        `json:"interval"`
	NextDue      time.Time    `json:"nextDue"`
	EndDate      *time.Time   `json:"endDate,omitempty"`
	MaxPayments  *int64       `json:"maxPayments,omitempty"`
	Fee          int64        `json:"fee"`
	FeeRecipient string       `json:"feeRecipient"`
	FeeCurrency  string       `json:"feeCurrency,omitempty"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

type SettlementConfirmed struct {
	ID           ObligationID `json:"id"`
	Amount       int64        `json:"amount"`
	Fee          int64        `json:"fee"`
	PaymentCount int64        `json:"paymentCount"`
	NextDue      time.Time    `json:"nextDue"`
	TxRef        string       `json:"txRef"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

type SettlementFailed struct {
	ID          ObligationID `json:"id"`
	Amount      int64        `json:"amount"`
	Reason      string       `json:"reason"`
	FailedCount int64        `json:"failedCount"`
	OccurredAt  time.Time    `json:"occurredAt"`
}

type ObligationCancelled struct {
	ID         ObligationID       `json:"id"`
	Reason     CancellationReason `json:"reason"`
	OccurredAt time.Time          `json:"occurredAt"`
}
