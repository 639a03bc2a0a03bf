package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry_type enums.
const (
	LedgerEntryFeePayment  = "entry_fee_payment"
	LedgerEntryPrizePayout = "prize_payout"
	LedgerEntryRefund      = "refund"
)

// Ledger directions.
const (
	LedgerDirectionCredit = "CREDIT"
	LedgerDirectionDebit  = "DEBIT"
)

// LedgerEntry is one append-only money-movement row. Rows are never updated
// or deleted; corrections are new rows.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	ContestID      *uuid.UUID `json:"contest_id,omitempty"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	EntryType      string     `json:"entry_type"`
	Direction      string     `json:"direction"`
	AmountCents    int64      `json:"amount_cents"`
	Currency       string     `json:"currency"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"` // unique when present
	ReferenceID    *uuid.UUID `json:"reference_id,omitempty"`    // payment intent or settlement run
	CreatedAt      time.Time  `json:"created_at"`
}

// Settlement run statuses.
const (
	SettlementRunPending   = "pending"
	SettlementRunCompleted = "completed"
)

// SettlementRun is the idempotency anchor for settling one contest: at most
// one row per contest, written in the same transaction as its payouts.
type SettlementRun struct {
	ID             uuid.UUID  `json:"id"`
	ContestID      uuid.UUID  `json:"contest_id"`
	Strategy       string     `json:"strategy"`
	PrizePoolCents int64      `json:"prize_pool_cents"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
